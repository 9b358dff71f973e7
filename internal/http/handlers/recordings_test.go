package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvrec/internal/models"
	"github.com/jmylchreest/tvrec/internal/recorder"
	"github.com/jmylchreest/tvrec/internal/repository"
	"github.com/jmylchreest/tvrec/internal/scheduler"
)

// fakeRecordings implements Recordings over real, never-run tasks.
type fakeRecordings struct {
	mu      sync.Mutex
	rec     *recorder.Recorder
	tasks   map[string]*recorder.Task
	targets map[string]time.Time
	err     error
}

func newFakeRecordings() *fakeRecordings {
	return &fakeRecordings{
		rec:     recorder.New(recorder.Config{Location: time.UTC}),
		tasks:   make(map[string]*recorder.Task),
		targets: make(map[string]time.Time),
	}
}

func (f *fakeRecordings) add(req recorder.Request) (*recorder.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	task, err := f.rec.NewTask(req)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.Key()]; ok {
		return nil, scheduler.ErrDuplicateKey
	}
	f.tasks[task.Key()] = task
	return task, nil
}

func (f *fakeRecordings) StartNow(req recorder.Request) (*recorder.Task, error) {
	return f.add(req)
}

func (f *fakeRecordings) StartAt(req recorder.Request, target time.Time) (*recorder.Task, error) {
	req.ScheduledFor = target
	task, err := f.add(req)
	if err == nil {
		f.mu.Lock()
		f.targets[task.Key()] = target
		f.mu.Unlock()
	}
	return task, err
}

func (f *fakeRecordings) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[key]
	delete(f.tasks, key)
	return ok
}

func (f *fakeRecordings) Get(key string) (*recorder.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[key]
	return t, ok
}

func (f *fakeRecordings) Active() []recorder.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recorder.Snapshot, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// fakeHistory implements History for testing.
type fakeHistory struct {
	rows   map[string]*models.Recording
	filter repository.RecordingFilter
}

func (f *fakeHistory) Get(_ context.Context, key string) (*models.Recording, error) {
	if r, ok := f.rows[key]; ok {
		return r, nil
	}
	return nil, models.ErrRecordingNotFound
}

func (f *fakeHistory) List(_ context.Context, filter repository.RecordingFilter) ([]*models.Recording, int64, error) {
	f.filter = filter
	out := make([]*models.Recording, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (f *fakeHistory) Counts(_ context.Context) (map[models.RecordingStatus]int64, error) {
	counts := make(map[models.RecordingStatus]int64)
	for _, r := range f.rows {
		counts[r.Status]++
	}
	return counts, nil
}

func newRecordingAPI(t *testing.T, recs *fakeRecordings, hist *fakeHistory) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	h := NewRecordingHandler(recs, time.UTC, 42)
	if hist != nil {
		h.WithHistory(hist)
	}
	h.Register(api)
	return api
}

func TestRecordingHandler_CreateNow(t *testing.T) {
	recs := newFakeRecordings()
	api := newRecordingAPI(t, recs, nil)

	resp := api.Post("/api/v1/recordings", map[string]any{
		"key":      "match-1",
		"source":   "Star Sports 1",
		"duration": "1:30",
		"title":    "Final",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body RecordingResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "match-1", body.Key)
	assert.Equal(t, 90, body.DurationSeconds)
	assert.Equal(t, recorder.StatusPending, body.Status)
	assert.Equal(t, int64(42), body.ChatID, "falls back to the default chat")

	task, ok := recs.Get("match-1")
	require.True(t, ok)
	assert.Equal(t, "api", task.Request().RequesterName)
}

func TestRecordingHandler_CreateRejectsForeignChat(t *testing.T) {
	recs := newFakeRecordings()
	_, api := humatest.New(t)
	NewRecordingHandler(recs, time.UTC, 42).WithAllowedChats(42, 7).Register(api)

	resp := api.Post("/api/v1/recordings", map[string]any{
		"key":      "spam",
		"source":   "Star Sports 1",
		"duration": "60",
		"title":    "Final",
		"chat_id":  999,
	})
	assert.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())
	assert.Empty(t, recs.Active(), "nothing is registered for a foreign chat")

	resp = api.Post("/api/v1/recordings", map[string]any{
		"key":      "ok",
		"source":   "Star Sports 1",
		"duration": "60",
		"title":    "Final",
		"chat_id":  7,
	})
	assert.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = api.Post("/api/v1/recordings", map[string]any{
		"key":      "default",
		"source":   "Star Sports 1",
		"duration": "60",
		"title":    "Final",
	})
	assert.Equal(t, http.StatusCreated, resp.Code, "the default chat is allowed")
}

func TestRecordingHandler_CreateScheduled(t *testing.T) {
	recs := newFakeRecordings()
	api := newRecordingAPI(t, recs, nil)

	resp := api.Post("/api/v1/recordings", map[string]any{
		"key":      "later",
		"source":   "http://streams.example/live.m3u8",
		"duration": "600",
		"title":    "Evening News",
		"chat_id":  7,
		"start_at": "24-12-2026 20:00:00",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	want := time.Date(2026, 12, 24, 20, 0, 0, 0, time.UTC)
	assert.True(t, recs.targets["later"].Equal(want))

	var body RecordingResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.ChatID)
	assert.Equal(t, recorder.DirectStreamLabel, body.Channel)
	require.NotNil(t, body.ScheduledFor)
}

func TestRecordingHandler_CreateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad duration", map[string]any{"source": "x", "duration": "1:xx", "title": "t"}},
		{"zero duration", map[string]any{"source": "x", "duration": "0", "title": "t"}},
		{"bad start", map[string]any{"source": "x", "duration": "10", "title": "t", "start_at": "tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := newFakeRecordings()
			api := newRecordingAPI(t, recs, nil)
			resp := api.Post("/api/v1/recordings", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Empty(t, recs.Active())
		})
	}
}

func TestRecordingHandler_DuplicateKeyConflicts(t *testing.T) {
	recs := newFakeRecordings()
	api := newRecordingAPI(t, recs, nil)
	body := map[string]any{"key": "dup", "source": "abc", "duration": "10", "title": "t"}

	require.Equal(t, http.StatusCreated, api.Post("/api/v1/recordings", body).Code)
	assert.Equal(t, http.StatusConflict, api.Post("/api/v1/recordings", body).Code)
}

func TestRecordingHandler_ShuttingDown(t *testing.T) {
	recs := newFakeRecordings()
	recs.err = scheduler.ErrShuttingDown
	api := newRecordingAPI(t, recs, nil)

	resp := api.Post("/api/v1/recordings", map[string]any{"source": "abc", "duration": "10", "title": "t"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRecordingHandler_ListGetCancel(t *testing.T) {
	recs := newFakeRecordings()
	api := newRecordingAPI(t, recs, nil)
	_, err := recs.StartNow(recorder.Request{Key: "k1", Title: "One", Source: "abc", Duration: time.Minute, ChatID: 1})
	require.NoError(t, err)

	resp := api.Get("/api/v1/recordings")
	require.Equal(t, http.StatusOK, resp.Code)
	var list ListRecordingsOutput
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list.Body))
	require.Len(t, list.Body.Recordings, 1)
	assert.Equal(t, "k1", list.Body.Recordings[0].Key)

	assert.Equal(t, http.StatusOK, api.Get("/api/v1/recordings/K1").Code)

	assert.Equal(t, http.StatusNoContent, api.Delete("/api/v1/recordings/k1").Code)
	assert.Equal(t, http.StatusNotFound, api.Delete("/api/v1/recordings/k1").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/recordings/k1").Code)
}

func TestRecordingHandler_History(t *testing.T) {
	finished := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	hist := &fakeHistory{rows: map[string]*models.Recording{
		"done": {Key: "done", Title: "Done", Source: "abc", Status: models.RecordingStatusCompleted, FinishedAt: &finished},
		"bad":  {Key: "bad", Title: "Bad", Source: "abc", Status: models.RecordingStatusFailed, Error: "capture failed"},
	}}
	api := newRecordingAPI(t, newFakeRecordings(), hist)

	resp := api.Get("/api/v1/history?status=failed&q=bad&limit=10")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, models.RecordingStatusFailed, hist.filter.Status)
	assert.Equal(t, "bad", hist.filter.Query)
	assert.Equal(t, 10, hist.filter.Limit)

	resp = api.Get("/api/v1/history/done")
	require.Equal(t, http.StatusOK, resp.Code)
	var row HistoryResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &row))
	assert.Equal(t, models.RecordingStatusCompleted, row.Status)

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/history/missing").Code)

	resp = api.Get("/api/v1/history/stats")
	require.Equal(t, http.StatusOK, resp.Code)
	var stats HistoryStatsOutput
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats.Body))
	assert.Equal(t, int64(1), stats.Body.Counts[models.RecordingStatusFailed])
}
