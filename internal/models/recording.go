package models

import (
	"strings"
	"time"
)

// RecordingStatus mirrors the recorder's task lifecycle.
type RecordingStatus string

const (
	RecordingStatusPending    RecordingStatus = "pending"
	RecordingStatusResolving  RecordingStatus = "resolving"
	RecordingStatusRecording  RecordingStatus = "recording"
	RecordingStatusFinalizing RecordingStatus = "finalizing"
	RecordingStatusUploading  RecordingStatus = "uploading"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
	RecordingStatusCancelled  RecordingStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s RecordingStatus) Valid() bool {
	switch s {
	case RecordingStatusPending, RecordingStatusResolving, RecordingStatusRecording,
		RecordingStatusFinalizing, RecordingStatusUploading, RecordingStatusCompleted,
		RecordingStatusFailed, RecordingStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions follow s.
func (s RecordingStatus) IsTerminal() bool {
	return s == RecordingStatusCompleted || s == RecordingStatusFailed || s == RecordingStatusCancelled
}

// Recording is the history row of one recording task, upserted on every
// status transition.
type Recording struct {
	BaseModel

	// Key is the task's correlation key.
	Key             string          `gorm:"column:task_key;not null;size:64;uniqueIndex" json:"key"`
	Title           string          `gorm:"not null;size:255" json:"title"`
	Channel         string          `gorm:"size:255" json:"channel"`
	Source          string          `gorm:"size:2048" json:"source"`
	PlaylistID      string          `gorm:"size:16" json:"playlist_id,omitempty"`
	DurationSeconds int             `gorm:"not null" json:"duration_seconds"`
	Status          RecordingStatus `gorm:"not null;size:20;index" json:"status"`

	ChatID        int64  `json:"chat_id"`
	RequestedBy   int64  `gorm:"index" json:"requested_by"`
	RequesterName string `gorm:"size:255" json:"requester_name,omitempty"`

	FileName string `gorm:"size:1024" json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Quality  string `gorm:"size:8" json:"quality,omitempty"`
	Error    string `gorm:"type:text" json:"error,omitempty"`

	// StoredChatID and StoredMessageID reference the upload in the storage
	// channel.
	StoredChatID    int64 `json:"stored_chat_id,omitempty"`
	StoredMessageID int   `json:"stored_message_id,omitempty"`
	Attempts        int   `json:"attempts,omitempty"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `gorm:"index" json:"finished_at,omitempty"`
}

// TableName returns the table name for recordings.
func (Recording) TableName() string {
	return "recordings"
}

// Validate checks the required fields.
func (r *Recording) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return ErrValidation{Field: "key", Message: ErrKeyRequired.Error()}
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrValidation{Field: "title", Message: ErrTitleRequired.Error()}
	}
	if strings.TrimSpace(r.Source) == "" {
		return ErrValidation{Field: "source", Message: ErrSourceRequired.Error()}
	}
	if !r.Status.Valid() {
		return ErrValidation{Field: "status", Message: ErrInvalidStatus.Error() + ": " + string(r.Status)}
	}
	return nil
}

// Duration returns the requested length.
func (r *Recording) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}
