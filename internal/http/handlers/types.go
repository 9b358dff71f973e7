// Package handlers provides HTTP API handlers for tvrec.
package handlers

import (
	"time"

	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/internal/models"
	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/recorder"
	"github.com/jmylchreest/tvrec/internal/scheduler"
)

// Common response types

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	Offset     int   `json:"offset"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
}

// Channel types

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	RawID      string `json:"raw_id"`
	OriginalID string `json:"original_id,omitempty"`
	Playlist   string `json:"playlist"`
	Group      string `json:"group,omitempty"`
	Logo       string `json:"logo,omitempty"`
}

// ChannelFromIndex converts an index entry to a response. Credentials in
// the stream URL query are masked.
func ChannelFromIndex(c channels.Channel) ChannelResponse {
	return ChannelResponse{
		ID:         c.ID,
		Name:       c.Name,
		URL:        observability.RedactQuery(c.URL),
		RawID:      c.RawID,
		OriginalID: c.OriginalID,
		Playlist:   c.Playlist,
		Group:      c.Group,
		Logo:       c.Logo,
	}
}

// PlaylistResponse summarises one loaded playlist.
type PlaylistResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Channels  int       `json:"channels"`
	FetchedAt time.Time `json:"fetched_at"`
}

// PlaylistFromSummary converts an index summary to a response.
func PlaylistFromSummary(p channels.PlaylistSummary) PlaylistResponse {
	return PlaylistResponse{
		ID:        p.ID,
		URL:       observability.RedactQuery(p.SourceURL),
		Channels:  p.Channels,
		FetchedAt: p.FetchedAt,
	}
}

// Recording types

// RecordingResponse represents an active recording task.
type RecordingResponse struct {
	Key             string          `json:"key"`
	Title           string          `json:"title"`
	Channel         string          `json:"channel"`
	Playlist        string          `json:"playlist,omitempty"`
	DurationSeconds int             `json:"duration_seconds"`
	Status          recorder.Status `json:"status"`
	Progress        float64         `json:"progress"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	ScheduledFor    *time.Time      `json:"scheduled_for,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	ChatID          int64           `json:"chat_id"`
	ProgressMessage int             `json:"progress_message_id,omitempty"`
	RequestedBy     int64           `json:"requested_by,omitempty"`
	RequesterName   string          `json:"requester_name,omitempty"`
	FileName        string          `json:"file_name,omitempty"`
	FileSize        int64           `json:"file_size,omitempty"`
	Quality         string          `json:"quality,omitempty"`
	Error           string          `json:"error,omitempty"`
	UploadAttempts  int             `json:"upload_attempts,omitempty"`
}

// RecordingFromSnapshot converts a task snapshot to a response.
func RecordingFromSnapshot(s recorder.Snapshot) RecordingResponse {
	return RecordingResponse{
		Key:             s.Key,
		Title:           s.Title,
		Channel:         s.Channel,
		Playlist:        s.PlaylistID,
		DurationSeconds: int(s.Duration / time.Second),
		Status:          s.Status,
		Progress:        s.Progress,
		CreatedAt:       s.CreatedAt,
		StartedAt:       optionalTime(s.StartedAt),
		ScheduledFor:    optionalTime(s.ScheduledFor),
		FinishedAt:      optionalTime(s.FinishedAt),
		ChatID:          s.ChatID,
		ProgressMessage: s.Message.MessageID,
		RequestedBy:     s.RequestedBy,
		RequesterName:   s.RequesterName,
		FileName:        s.FileName,
		FileSize:        s.FileSize,
		Quality:         s.Quality,
		Error:           s.Error,
		UploadAttempts:  s.Attempts,
	}
}

// CreateRecordingRequest is the request body for starting a recording.
type CreateRecordingRequest struct {
	Key      string `json:"key,omitempty" doc:"Correlation key; a ULID is generated when empty" maxLength:"64" pattern:"^[a-z0-9_-]*$"`
	Source   string `json:"source" doc:"Channel identifier (scoped id, tvg-id or name) or an http(s) stream URL" minLength:"1" maxLength:"2048"`
	Duration string `json:"duration" doc:"Seconds, M:S or H:M:S" minLength:"1" maxLength:"16" example:"1:30:00"`
	Title    string `json:"title" doc:"Recording title" minLength:"1" maxLength:"255"`
	Label    string `json:"label,omitempty" doc:"Channel label for direct URLs" maxLength:"255"`
	Playlist string `json:"playlist,omitempty" doc:"Restrict channel lookup to one playlist, e.g. p2" maxLength:"16"`
	ChatID   int64  `json:"chat_id,omitempty" doc:"Chat receiving progress and the finished file; defaults to the log chat"`
	StartAt  string `json:"start_at,omitempty" doc:"Scheduled start as DD-MM-YYYY HH:MM:SS in the recording time zone" example:"24-12-2026 20:00:00"`
}

// History types

// HistoryResponse represents a persisted recording.
type HistoryResponse struct {
	ID              models.ULID            `json:"id"`
	Key             string                 `json:"key"`
	Title           string                 `json:"title"`
	Channel         string                 `json:"channel"`
	Playlist        string                 `json:"playlist,omitempty"`
	DurationSeconds int                    `json:"duration_seconds"`
	Status          models.RecordingStatus `json:"status"`
	ChatID          int64                  `json:"chat_id"`
	RequestedBy     int64                  `json:"requested_by,omitempty"`
	RequesterName   string                 `json:"requester_name,omitempty"`
	FileName        string                 `json:"file_name,omitempty"`
	FileSize        int64                  `json:"file_size,omitempty"`
	Quality         string                 `json:"quality,omitempty"`
	Error           string                 `json:"error,omitempty"`
	StoredMessageID int                    `json:"stored_message_id,omitempty"`
	Attempts        int                    `json:"attempts,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ScheduledFor    *time.Time             `json:"scheduled_for,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
}

// HistoryFromModel converts a model to a response.
func HistoryFromModel(r *models.Recording) HistoryResponse {
	return HistoryResponse{
		ID:              r.ID,
		Key:             r.Key,
		Title:           r.Title,
		Channel:         r.Channel,
		Playlist:        r.PlaylistID,
		DurationSeconds: r.DurationSeconds,
		Status:          r.Status,
		ChatID:          r.ChatID,
		RequestedBy:     r.RequestedBy,
		RequesterName:   r.RequesterName,
		FileName:        r.FileName,
		FileSize:        r.FileSize,
		Quality:         r.Quality,
		Error:           r.Error,
		StoredMessageID: r.StoredMessageID,
		Attempts:        r.Attempts,
		CreatedAt:       r.CreatedAt,
		ScheduledFor:    r.ScheduledFor,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
}

// Job types

// JobResponse describes a maintenance job.
type JobResponse struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	LastError string     `json:"last_error,omitempty"`
}

// JobFromInfo converts runner job info to a response.
func JobFromInfo(j scheduler.JobInfo) JobResponse {
	return JobResponse{
		Name:      j.Name,
		Schedule:  j.Schedule,
		NextRun:   optionalTime(j.Next),
		LastRun:   optionalTime(j.Prev),
		Runs:      j.Runs,
		Failures:  j.Failures,
		LastError: j.LastErr,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
