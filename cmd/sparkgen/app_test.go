package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/sparkgen/internal/connection"
	"github.com/xaenox/sparkgen/internal/models"
	"github.com/xaenox/sparkgen/internal/orchestrator"
	"github.com/xaenox/sparkgen/internal/remote"
	"github.com/xaenox/sparkgen/pkg/config"
	"go.uber.org/zap"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Storage.Driver = driver
	cfg.Storage.DataDir = t.TempDir()
	cfg.Cache.Dir = t.TempDir()
	return cfg
}

func TestBuildPolicies(t *testing.T) {
	set := buildPolicies(config.RetryConfig{
		Jitter:    0.05,
		Excellent: config.PolicyConfig{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond},
	})
	ex := set.For(connection.Excellent)
	assert.Equal(t, 6, ex.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, ex.BaseDelay)
	assert.InDelta(t, 0.05, ex.Jitter, 1e-9)

	def := orchestrator.DefaultPolicies()
	assert.Equal(t, def.For(connection.Good).MaxAttempts, set.For(connection.Good).MaxAttempts)
	off := set.For(connection.Offline)
	assert.True(t, off.FailFast)
	assert.Zero(t, off.Jitter)
}

func TestRequestFromFlags(t *testing.T) {
	req, err := requestFromFlags(&requestFlags{category: "funny", tone: "playful", time: "night", count: 2})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryFunny, req.Category)
	assert.Equal(t, models.Night, req.TimeOfDay)

	req, err = requestFromFlags(&requestFlags{category: "funny", tone: "playful"})
	require.NoError(t, err)
	assert.True(t, req.TimeOfDay.Valid())

	_, err = requestFromFlags(&requestFlags{category: "nope", tone: "playful"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	_, err = requestFromFlags(&requestFlags{category: "funny", tone: "playful", time: "brunch"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestAppGeneratesAndPersists(t *testing.T) {
	for _, driver := range []string{"memory", "bolt", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			offline := remote.SenderFunc(func(context.Context, *remote.Payload) (*remote.Response, error) {
				return nil, remote.NewError(remote.KindConnectivity, "no route to host")
			})
			cfg := testConfig(t, driver)
			cfg.Retry.Excellent = config.PolicyConfig{MaxAttempts: 1}

			a, err := newApp(cfg, zap.NewNop(), offline)
			require.NoError(t, err)
			defer a.Close()

			ctx := context.Background()
			req := models.GenerationRequest{Category: models.CategoryGoodMorning, Tone: models.ToneSweet, TimeOfDay: models.Morning, Count: 2}
			res, err := a.orch.Generate(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, models.OriginFallback, res.Origin)

			stats, err := a.store.Statistics(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, stats.TotalMessages)
			assert.Equal(t, 1, stats.GenerationRecords)

			report, err := a.maintenance().RunOnce(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Store.TrimmedMessages)
		})
	}
}

func TestPrintMessages(t *testing.T) {
	var buf bytes.Buffer
	printMessages(&buf, nil)
	assert.Contains(t, buf.String(), "No messages.")

	buf.Reset()
	printMessages(&buf, []*models.GeneratedMessage{{
		ID:       "m1",
		Content:  "Good morning, sunshine.",
		Category: models.CategoryGoodMorning,
		Tone:     models.ToneSweet,
		Origin:   models.OriginFallback,
	}})
	assert.Contains(t, buf.String(), "Good Morning/Sweet")
	assert.Contains(t, buf.String(), "[offline]")
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := newLogger(config.LogConfig{Level: "chatty"})
	assert.Error(t, err)
	logger, err := newLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
