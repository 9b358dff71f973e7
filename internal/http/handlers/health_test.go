package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixedCount int

func (c fixedCount) Len() int { return int(c) }

func TestHealthHandler_GetHealth(t *testing.T) {
	h := NewHealthHandler("1.2.3").
		WithDB(pingFunc(func(context.Context) error { return nil })).
		WithChannels(fixedCount(120)).
		WithRecordings(fixedCount(2))

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.Equal(t, 120, out.Body.Channels)
	assert.Equal(t, 2, out.Body.ActiveRecordings)
	assert.Equal(t, "ok", out.Body.Checks["database"])
	assert.Positive(t, out.Body.CPUInfo.Cores)
}

func TestHealthHandler_DegradedDatabase(t *testing.T) {
	h := NewHealthHandler("dev").WithDB(pingFunc(func(context.Context) error { return errors.New("closed") }))

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "degraded", out.Body.Status)

	ready, err := h.GetReadyz(context.Background(), &ReadyzInput{})
	require.NoError(t, err)
	assert.Equal(t, "not_ready", ready.Body.Status)
	assert.Equal(t, "error", ready.Body.Components["database"])
}

func TestHealthHandler_Routes(t *testing.T) {
	_, api := humatest.New(t)
	NewHealthHandler("dev").WithDB(pingFunc(func(context.Context) error { return nil })).Register(api)

	resp := api.Get("/livez")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = api.Get("/readyz")
	require.Equal(t, http.StatusOK, resp.Code)
	var ready ReadyzOutput
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ready.Body))
	assert.Equal(t, "ready", ready.Body.Status)

	assert.Equal(t, http.StatusOK, api.Get("/health").Code)
}
