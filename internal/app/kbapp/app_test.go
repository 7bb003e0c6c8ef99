package kbapp

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultkb/internal/domain/fault"
	"faultkb/internal/platform/config"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.URL = filepath.Join(dir, "kb.db")
	cfg.RAG.IndexPath = filepath.Join(dir, "vector_index.bin")
	cfg.Outbox.IntervalSeconds = 0
	return cfg
}

func TestNewWithoutAPIKeyServesLookups(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	_, err = app.Store.Create(ctx, &fault.Record{TicketNo: "T-1", DeviceName: "Cooling Fan A"})
	require.NoError(t, err)

	rec, err := app.Service.GetRecord(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, "Cooling Fan A", rec.DeviceName)

	h := app.Service.Health(ctx)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "lazy", h.AIBackend)

	_, err = app.Service.Ask(ctx, "fan failure")
	assert.ErrorIs(t, err, fault.ErrInitialization)

	_, err = app.Service.CreateRecord(ctx, &fault.Record{TicketNo: "T-2"})
	assert.ErrorIs(t, err, fault.ErrInitialization)
	missing, err := app.Store.GetByTicket(ctx, "T-2")
	require.NoError(t, err)
	assert.Nil(t, missing, "store untouched when backends cannot initialize")
}

func TestNewFallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://127.0.0.1:1/0"

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	assert.Nil(t, app.RedisCache)
}
