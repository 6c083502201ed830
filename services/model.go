// services/model.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/shared"
)

// ModelService calls the upstream chat completion API for batch jobs. The
// wire format is OpenAI-compatible, which both OpenRouter and self-hosted
// gateways speak.
type ModelService struct {
	appContext.DefaultService

	baseURL string
	apiKey  string
	client  *http.Client
}

const MODEL_SVC = "model_svc"

func (svc ModelService) Id() string {
	return MODEL_SVC
}

func (svc *ModelService) Configure(ctx *appContext.Context) error {
	svc.baseURL = strings.TrimRight(envString("MODEL_BASE_URL", "https://openrouter.ai/api/v1"), "/")
	svc.apiKey = envString("MODEL_API_KEY", "")
	svc.client = &http.Client{Timeout: 90 * time.Second}
	return svc.DefaultService.Configure(ctx)
}

func (svc *ModelService) Start() error {
	return nil
}

type chatCompletionReq struct {
	Model    string            `json:"model"`
	Messages []dto.ChatMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type chatCompletionResp struct {
	Choices []struct {
		Message dto.ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoke runs one chat completion. A tutoring system prompt built from the
// job's language and speech level is prepended to the conversation.
func (svc *ModelService) Invoke(ctx context.Context, modelID string, messages []dto.ChatMessage, language, speechLevel string) (string, error) {
	if strings.TrimSpace(svc.apiKey) == "" {
		return "", errors.New("model: api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return "", errors.New("model: model id is required")
	}

	full := make([]dto.ChatMessage, 0, len(messages)+1)
	full = append(full, dto.ChatMessage{
		Role:    "system",
		Content: systemPrompt(language, speechLevel),
	})
	full = append(full, messages...)

	b, err := json.Marshal(chatCompletionReq{
		Model:    modelID,
		Messages: full,
		Stream:   false,
	})
	if err != nil {
		return "", err
	}

	url := svc.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+svc.apiKey)

	resp, err := svc.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", fmt.Errorf("model: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded chatCompletionResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("model: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

func systemPrompt(language, speechLevel string) string {
	register := "polite everyday haeyo style"
	switch speechLevel {
	case shared.SpeechLevelBanmal:
		register = "casual banmal style between close friends"
	case shared.SpeechLevelHapsyo:
		register = "formal hapsyo style for official settings"
	}

	if language == shared.LanguageEnglish {
		return "You are a Korean language tutor. Answer in English, using Korean examples written in " + register + "."
	}
	return "You are a Korean language tutor. Answer in Korean, using " + register + "."
}
