package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tickerpulse/internal/pipeline"
	"tickerpulse/internal/pipeline/pipelinetest"
)

// TestNewConfig tests the defaults
func TestNewConfig(t *testing.T) {
	cfg := pipeline.NewConfig()

	assert.Equal(t, pipeline.DefaultWorkerTimeout, cfg.DefaultWorkerTimeout)
	assert.Equal(t, pipeline.DefaultJobTimeout, cfg.JobTimeout)
	assert.Equal(t, 2*pipeline.DefaultJobTimeout, cfg.ComparisonTimeout)
	assert.Equal(t, 4, cfg.MaxSubjects)
	assert.True(t, cfg.ForwardComparisonEvents)
	assert.NotNil(t, cfg.WorkerTimeouts)
}

// TestConfigWorkerTimeoutResolution tests override, worker, default order
func TestConfigWorkerTimeoutResolution(t *testing.T) {
	cfg := pipeline.NewConfig()
	cfg.DefaultWorkerTimeout = 10 * time.Second

	plain := &pipelinetest.MockWorker{IDValue: "plain", RoleValue: pipeline.RoleAnalyst}
	opinionated := &pipelinetest.MockWorker{IDValue: "opinionated", RoleValue: pipeline.RoleAnalyst, TimeoutValue: 5 * time.Second}

	// Default applies when nothing else is set.
	assert.Equal(t, 10*time.Second, cfg.WorkerTimeout(plain))

	// The worker's own value beats the default.
	assert.Equal(t, 5*time.Second, cfg.WorkerTimeout(opinionated))

	// An explicit override beats both.
	cfg.SetWorkerTimeout("opinionated", 2*time.Second)
	assert.Equal(t, 2*time.Second, cfg.WorkerTimeout(opinionated))

	// A zeroed config still yields the package default.
	cfg.DefaultWorkerTimeout = 0
	assert.Equal(t, pipeline.DefaultWorkerTimeout, cfg.WorkerTimeout(plain))
}

// TestConfigBuilder tests the fluent builder
func TestConfigBuilder(t *testing.T) {
	cfg := pipeline.NewConfigBuilder().
		WithWorkerTimeout("slow", 45*time.Second).
		WithDefaultWorkerTimeout(15*time.Second).
		WithJobTimeout(3*time.Minute).
		WithComparisonTimeout(5*time.Minute).
		WithMaxSubjects(3).
		WithForwardComparisonEvents(false).
		Build()

	assert.Equal(t, 45*time.Second, cfg.WorkerTimeouts["slow"])
	assert.Equal(t, 15*time.Second, cfg.DefaultWorkerTimeout)
	assert.Equal(t, 3*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ComparisonTimeout)
	assert.Equal(t, 3, cfg.MaxSubjects)
	assert.False(t, cfg.ForwardComparisonEvents)
}

// TestConfigBuilderMaxSubjectsFloor tests that the fan-out floor holds
func TestConfigBuilderMaxSubjectsFloor(t *testing.T) {
	cfg := pipeline.NewConfigBuilder().WithMaxSubjects(1).Build()
	assert.Equal(t, 4, cfg.MaxSubjects)

	cfg = pipeline.NewConfigBuilder().WithMaxSubjects(2).Build()
	assert.Equal(t, 2, cfg.MaxSubjects)
}
