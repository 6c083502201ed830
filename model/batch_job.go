package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// BatchJob is one asynchronous model invocation. The (user, session, message)
// triple is the caller-chosen idempotency key: a duplicate submit must return
// this row, never create a second one.
type BatchJob struct {
	ID string `json:"id" gorm:"primaryKey;type:text;not null"`

	UserID    string `json:"user_id" gorm:"not null;size:64;index:uniq_batch_key,unique,priority:1"`
	SessionID string `json:"session_id" gorm:"not null;size:64;index:uniq_batch_key,unique,priority:2"`
	MessageID string `json:"message_id" gorm:"not null;size:64;index:uniq_batch_key,unique,priority:3"`

	ModelID     string          `json:"model_id" gorm:"not null;size:128"`
	Messages    json.RawMessage `json:"messages" gorm:"type:text;not null"`
	Language    string          `json:"language" gorm:"not null;size:8"`
	SpeechLevel string          `json:"speech_level" gorm:"not null;size:16"`

	Status JobStatus `json:"status" gorm:"not null;size:16;index"`

	Result       *string    `json:"result,omitempty" gorm:"type:text"`
	ErrorMessage *string    `json:"error_message,omitempty" gorm:"type:text"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty" gorm:"index"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (BatchJob) TableName() string { return "batch_jobs" }
