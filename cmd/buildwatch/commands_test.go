package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"Buildwatch/internal/config"
	"Buildwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	pipelines []models.Pipeline
	workflows map[string][]models.Workflow
	insights  map[string][]models.WorkflowInsight
	listErr   error
}

func (f *fakeClient) ListPipelines(ctx context.Context) ([]models.Pipeline, error) {
	return f.pipelines, f.listErr
}

func (f *fakeClient) ListWorkflows(ctx context.Context, pipelineID string) ([]models.Workflow, error) {
	return f.workflows[pipelineID], nil
}

func (f *fakeClient) GetWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	for _, wfs := range f.workflows {
		for _, wf := range wfs {
			if wf.ID == id {
				return wf, nil
			}
		}
	}
	return models.Workflow{}, errors.New("not found")
}

func (f *fakeClient) WorkflowInsights(ctx context.Context, name string) ([]models.WorkflowInsight, error) {
	return f.insights[name], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAttributeCost(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		pipelines: []models.Pipeline{
			{ID: "p1", ActorLogin: "alice", CreatedAt: now},
			{ID: "p2", ActorLogin: "bob", CreatedAt: now.Add(-time.Minute)},
			{ID: "p3", ActorLogin: "alice", CreatedAt: now.Add(-2 * time.Minute)},
		},
		workflows: map[string][]models.Workflow{
			"p1": {{ID: "w1", PipelineID: "p1", Name: "build"}},
			"p2": {{ID: "w2", PipelineID: "p2", Name: "build"}},
			"p3": {{ID: "w3", PipelineID: "p3", Name: "Build Error"}},
		},
		insights: map[string][]models.WorkflowInsight{
			"build": {
				{ID: "w1", CreditsUsed: 100},
				{ID: "w2", CreditsUsed: 200},
			},
		},
	}
	cfg := &config.Config{
		CircleCI: config.CircleCIConfig{FetchConcurrency: 2},
		Cost:     config.CostConfig{UnitPrice: 0.0006, ExcludedWorkflow: "Build Error"},
	}

	ledger, err := attributeCost(context.Background(), cfg, client, discardLogger())
	require.NoError(t, err)

	assert.InDelta(t, 0.06, ledger.Actors["alice"], 1e-9)
	assert.InDelta(t, 0.12, ledger.Actors["bob"], 1e-9)
	assert.InDelta(t, 0.18, ledger.Total, 1e-9)
	assert.NotContains(t, ledger.Pipelines, "p3")
}

func TestAttributeCostListError(t *testing.T) {
	client := &fakeClient{listErr: errors.New("boom")}

	_, err := attributeCost(context.Background(), &config.Config{}, client, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pipelines")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	assert.Equal(t, "buildwatch v"+version+"\n", out.String())
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(tt.level)
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			assert.False(t, logger.Enabled(context.Background(), tt.want-1))
		})
	}
}
