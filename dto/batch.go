package dto

import (
	"time"

	"github.com/hanmadi-app/hanmadi_api/shared"
)

// ==================== BATCH REQUEST DTOs ====================

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant" example:"user"`
	Content string `json:"content" validate:"required" example:"How do I say thank you politely?"`
}

type SubmitBatchRequest struct {
	SessionID   string        `json:"session_id" validate:"required,max=64" example:"sess_8f2a"`
	MessageID   string        `json:"message_id" validate:"required,max=64" example:"msg_0012"`
	ModelID     string        `json:"model_id" validate:"required,max=128" example:"google/gemini-2.0-flash-001"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Language    string        `json:"language" validate:"omitempty,oneof=ko en" example:"ko"`
	SpeechLevel string        `json:"speech_level" validate:"omitempty,oneof=banmal haeyo hapsyo" example:"haeyo"`
}

func (s SubmitBatchRequest) Validate() error {
	return GetValidator().Struct(s)
}

// Normalize fills the optional tuning fields with their defaults.
func (s *SubmitBatchRequest) Normalize() {
	if s.Language == "" {
		s.Language = shared.LanguageKorean
	}
	if s.SpeechLevel == "" {
		s.SpeechLevel = shared.SpeechLevelHaeyo
	}
}

// ==================== BATCH RESPONSE DTOs ====================

type SubmitBatchResponse struct {
	JobID     string `json:"job_id" example:"0190b7f2-63a1-7cc3-a1f0-3f5e9a2b4c6d"`
	Status    string `json:"status" example:"pending"`
	Duplicate bool   `json:"duplicate" example:"false"`
}

type BatchStatusResponse struct {
	JobID        string     `json:"job_id" example:"0190b7f2-63a1-7cc3-a1f0-3f5e9a2b4c6d"`
	Status       string     `json:"status" example:"completed"`
	Result       *string    `json:"result,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
