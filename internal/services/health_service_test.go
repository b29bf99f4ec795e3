package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/internal/pipeline"
	"tickerpulse/internal/session"
	"tickerpulse/internal/stream"
)

func TestHealthCheckAllUp(t *testing.T) {
	hub := stream.NewHub(testLogger())
	sessions := session.NewRegistry(hub, nil, testLogger())
	t.Cleanup(sessions.Close)

	hs := NewHealthService("1.2.3", tripleRegistry(t), sessions, hub, testLogger())

	status := hs.HealthCheck(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	require.Len(t, status.Services, 3)

	pipelineHealth, ok := status.Services["pipeline"].(ServiceHealth)
	require.True(t, ok)
	assert.Equal(t, "up", pipelineHealth.Status)
	assert.Contains(t, pipelineHealth.Message, "5 workers")
}

func TestHealthCheckDegradesOnMisshapenPipeline(t *testing.T) {
	hub := stream.NewHub(testLogger())
	sessions := session.NewRegistry(hub, nil, testLogger())
	t.Cleanup(sessions.Close)

	hs := NewHealthService("1.2.3", pipeline.NewRegistry(), sessions, hub, testLogger())

	status := hs.HealthCheck(context.Background())
	assert.Equal(t, "degraded", status.Status)

	pipelineHealth, ok := status.Services["pipeline"].(ServiceHealth)
	require.True(t, ok)
	assert.Equal(t, "down", pipelineHealth.Status)
	assert.NotEmpty(t, pipelineHealth.Message)
}

func TestHealthCheckDegradesOnMissingDependencies(t *testing.T) {
	hs := NewHealthService("1.2.3", nil, nil, nil, testLogger())

	status := hs.HealthCheck(context.Background())
	assert.Equal(t, "degraded", status.Status)
	for name, svc := range status.Services {
		sh, ok := svc.(ServiceHealth)
		require.True(t, ok, name)
		assert.Equal(t, "down", sh.Status, name)
	}
}

func TestLivenessCheck(t *testing.T) {
	hs := NewHealthService("1.2.3", nil, nil, nil, testLogger())

	status := hs.LivenessCheck(context.Background())
	assert.Equal(t, "alive", status.Status)
	assert.Contains(t, status.Runtime, "go_version")
	assert.Contains(t, status.Runtime, "goroutines")
}

func TestVersionInfo(t *testing.T) {
	hs := NewHealthService("1.2.3", nil, nil, nil, testLogger())

	info := hs.Version()
	assert.Equal(t, "1.2.3", info["version"])
	assert.Contains(t, info, "go_version")
	assert.Contains(t, info, "start_time")
}
