package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvrec/internal/models"
	"github.com/jmylchreest/tvrec/internal/recorder"
	"github.com/jmylchreest/tvrec/internal/repository"
	"github.com/jmylchreest/tvrec/internal/scheduler"
)

// Recordings starts, lists and cancels recording tasks.
type Recordings interface {
	StartNow(req recorder.Request) (*recorder.Task, error)
	StartAt(req recorder.Request, target time.Time) (*recorder.Task, error)
	Cancel(key string) bool
	Get(key string) (*recorder.Task, bool)
	Active() []recorder.Snapshot
}

// History answers queries over persisted recordings.
type History interface {
	Get(ctx context.Context, key string) (*models.Recording, error)
	List(ctx context.Context, filter repository.RecordingFilter) ([]*models.Recording, int64, error)
	Counts(ctx context.Context) (map[models.RecordingStatus]int64, error)
}

// RecordingHandler handles recording endpoints.
type RecordingHandler struct {
	recordings    Recordings
	history       History
	location      *time.Location
	defaultChatID int64
	allowedChats  map[int64]bool
}

// NewRecordingHandler creates a new recording handler. Requests without a
// chat id report into defaultChatID.
func NewRecordingHandler(recordings Recordings, location *time.Location, defaultChatID int64) *RecordingHandler {
	if location == nil {
		location = time.UTC
	}
	return &RecordingHandler{
		recordings:    recordings,
		location:      location,
		defaultChatID: defaultChatID,
	}
}

// WithAllowedChats limits the chats a recording may report into. With no
// list every chat is accepted.
func (h *RecordingHandler) WithAllowedChats(ids ...int64) *RecordingHandler {
	h.allowedChats = make(map[int64]bool, len(ids))
	for _, id := range ids {
		h.allowedChats[id] = true
	}
	return h
}

// WithHistory enables the history endpoints.
func (h *RecordingHandler) WithHistory(history History) *RecordingHandler {
	h.history = history
	return h
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "List active recordings",
		Description: "Returns every registered recording, including scheduled ones that have not started",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/v1/recordings/{key}",
		Summary:     "Get active recording",
		Description: "Returns an active recording by correlation key",
		Tags:        []string{"Recordings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "createRecording",
		Method:        "POST",
		Path:          "/api/v1/recordings",
		Summary:       "Start recording",
		Description:   "Starts a recording now, or at start_at when given",
		Tags:          []string{"Recordings"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelRecording",
		Method:        "DELETE",
		Path:          "/api/v1/recordings/{key}",
		Summary:       "Cancel recording",
		Description:   "Kills the capture process and removes the recording from the registry",
		Tags:          []string{"Recordings"},
		DefaultStatus: 204,
	}, h.Cancel)

	if h.history == nil {
		return
	}

	huma.Register(api, huma.Operation{
		OperationID: "listHistory",
		Method:      "GET",
		Path:        "/api/v1/history",
		Summary:     "List recording history",
		Description: "Returns persisted recordings, newest first",
		Tags:        []string{"History"},
	}, h.ListHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getHistory",
		Method:      "GET",
		Path:        "/api/v1/history/{key}",
		Summary:     "Get recording history",
		Description: "Returns the persisted record of one recording",
		Tags:        []string{"History"},
	}, h.GetHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getHistoryStats",
		Method:      "GET",
		Path:        "/api/v1/history/stats",
		Summary:     "Recording counts",
		Description: "Returns the number of persisted recordings per status",
		Tags:        []string{"History"},
	}, h.Stats)
}

// ListRecordingsInput is the input for listing recordings.
type ListRecordingsInput struct{}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Recordings []RecordingResponse `json:"recordings"`
	}
}

// List returns the active recordings.
func (h *RecordingHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	active := h.recordings.Active()
	resp := &ListRecordingsOutput{}
	resp.Body.Recordings = make([]RecordingResponse, 0, len(active))
	for _, s := range active {
		resp.Body.Recordings = append(resp.Body.Recordings, RecordingFromSnapshot(s))
	}
	return resp, nil
}

// RecordingKeyInput identifies a recording.
type RecordingKeyInput struct {
	Key string `path:"key" doc:"Correlation key"`
}

// RecordingOutput is the output for a single recording.
type RecordingOutput struct {
	Body RecordingResponse
}

// Get returns an active recording.
func (h *RecordingHandler) Get(ctx context.Context, input *RecordingKeyInput) (*RecordingOutput, error) {
	task, ok := h.recordings.Get(normalizeKey(input.Key))
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not active", input.Key))
	}
	return &RecordingOutput{Body: RecordingFromSnapshot(task.Snapshot())}, nil
}

// CreateRecordingInput is the input for starting a recording.
type CreateRecordingInput struct {
	Body CreateRecordingRequest
}

// Create starts or schedules a recording.
func (h *RecordingHandler) Create(ctx context.Context, input *CreateRecordingInput) (*RecordingOutput, error) {
	body := input.Body
	d, err := recorder.ParseDuration(body.Duration)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid duration; use seconds, M:S or H:M:S", err)
	}

	chatID := body.ChatID
	if chatID == 0 {
		chatID = h.defaultChatID
	}
	if chatID == 0 {
		return nil, huma.Error400BadRequest("chat_id is required when no log chat is configured")
	}
	if len(h.allowedChats) > 0 && !h.allowedChats[chatID] {
		return nil, huma.Error403Forbidden(fmt.Sprintf("chat %d is not an admin or log chat", chatID))
	}

	req := recorder.Request{
		Key:           normalizeKey(body.Key),
		Title:         body.Title,
		Source:        body.Source,
		Label:         body.Label,
		PlaylistID:    strings.ToLower(body.Playlist),
		Duration:      d,
		ChatID:        chatID,
		RequesterName: "api",
	}

	var task *recorder.Task
	if body.StartAt != "" {
		date, clock, ok := strings.Cut(strings.TrimSpace(body.StartAt), " ")
		if !ok {
			return nil, huma.Error400BadRequest("start_at must be DD-MM-YYYY HH:MM:SS")
		}
		target, perr := scheduler.ParseTarget(date, clock, h.location)
		if perr != nil {
			return nil, huma.Error400BadRequest("start_at must be DD-MM-YYYY HH:MM:SS", perr)
		}
		task, err = h.recordings.StartAt(req, target)
	} else {
		task, err = h.recordings.StartNow(req)
	}
	if err != nil {
		return nil, startError(err)
	}
	return &RecordingOutput{Body: RecordingFromSnapshot(task.Snapshot())}, nil
}

func startError(err error) error {
	switch {
	case errors.Is(err, recorder.ErrInvalidRequest), errors.Is(err, recorder.ErrInvalidDuration):
		return huma.Error400BadRequest(err.Error(), err)
	case errors.Is(err, scheduler.ErrDuplicateKey):
		return huma.Error409Conflict(err.Error(), err)
	case errors.Is(err, scheduler.ErrShuttingDown):
		return huma.Error503ServiceUnavailable(err.Error(), err)
	default:
		return huma.Error500InternalServerError("failed to start recording", err)
	}
}

// CancelRecordingOutput is the output for cancelling a recording.
type CancelRecordingOutput struct{}

// Cancel stops an active recording.
func (h *RecordingHandler) Cancel(ctx context.Context, input *RecordingKeyInput) (*CancelRecordingOutput, error) {
	if !h.recordings.Cancel(normalizeKey(input.Key)) {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not active", input.Key))
	}
	return &CancelRecordingOutput{}, nil
}

// ListHistoryInput is the input for listing history.
type ListHistoryInput struct {
	Status string `query:"status" enum:"pending,resolving,recording,finalizing,uploading,completed,failed,cancelled" doc:"Filter by status"`
	Query  string `query:"q" doc:"Match title or channel"`
	ChatID int64  `query:"chat_id" doc:"Filter by chat"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Items per page"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Items to skip"`
}

// ListHistoryOutput is the output for listing history.
type ListHistoryOutput struct {
	Body struct {
		Pagination PaginationMeta    `json:"pagination"`
		Recordings []HistoryResponse `json:"recordings"`
	}
}

// ListHistory returns a page of persisted recordings.
func (h *RecordingHandler) ListHistory(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	recs, total, err := h.history.List(ctx, repository.RecordingFilter{
		Status: models.RecordingStatus(input.Status),
		Query:  input.Query,
		ChatID: input.ChatID,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list history", err)
	}

	resp := &ListHistoryOutput{}
	resp.Body.Pagination = PaginationMeta{Offset: input.Offset, Limit: input.Limit, TotalItems: total}
	resp.Body.Recordings = make([]HistoryResponse, 0, len(recs))
	for _, r := range recs {
		resp.Body.Recordings = append(resp.Body.Recordings, HistoryFromModel(r))
	}
	return resp, nil
}

// HistoryOutput is the output for one history row.
type HistoryOutput struct {
	Body HistoryResponse
}

// GetHistory returns the persisted record of one recording.
func (h *RecordingHandler) GetHistory(ctx context.Context, input *RecordingKeyInput) (*HistoryOutput, error) {
	rec, err := h.history.Get(ctx, normalizeKey(input.Key))
	if err != nil {
		if errors.Is(err, models.ErrRecordingNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.Key))
		}
		return nil, huma.Error500InternalServerError("failed to get recording", err)
	}
	return &HistoryOutput{Body: HistoryFromModel(rec)}, nil
}

// HistoryStatsInput is the input for history statistics.
type HistoryStatsInput struct{}

// HistoryStatsOutput is the output for history statistics.
type HistoryStatsOutput struct {
	Body struct {
		Active int                              `json:"active"`
		Counts map[models.RecordingStatus]int64 `json:"counts"`
	}
}

// Stats returns recording counts per status.
func (h *RecordingHandler) Stats(ctx context.Context, input *HistoryStatsInput) (*HistoryStatsOutput, error) {
	counts, err := h.history.Counts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count recordings", err)
	}
	resp := &HistoryStatsOutput{}
	resp.Body.Active = len(h.recordings.Active())
	resp.Body.Counts = counts
	return resp, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
