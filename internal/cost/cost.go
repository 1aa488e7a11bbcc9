// Package cost attributes CircleCI credit usage to workflows, pipelines and actors.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"Buildwatch/internal/config"
	"Buildwatch/internal/models"
)

// Source is the subset of the CircleCI client the engine reads from
type Source interface {
	GetWorkflow(ctx context.Context, workflowID string) (models.Workflow, error)
	WorkflowInsights(ctx context.Context, name string) ([]models.WorkflowInsight, error)
}

type Engine struct {
	src       Source
	unitPrice float64
	excluded  string
	logger    *slog.Logger
}

// NewEngine creates a cost engine. unit price and the excluded workflow name are fixed
// for the engine's lifetime.
func NewEngine(src Source, cfg config.CostConfig, logger *slog.Logger) *Engine {
	return &Engine{
		src:       src,
		unitPrice: cfg.UnitPrice,
		excluded:  cfg.ExcludedWorkflow,
		logger:    logger.With("component", "cost"),
	}
}

// Ledger is the attributed cost of one batch of pipelines
type Ledger struct {
	Entries   []models.CostEntry `json:"entries"`
	Workflows map[string]float64 `json:"workflows"`
	Pipelines map[string]float64 `json:"pipelines"`
	Actors    map[string]float64 `json:"actors"`
	Total     float64            `json:"total"`
}

// WorkflowCosts prices every distinct workflow id. Workflows named after the excluded
// sentinel are skipped, and workflows without a matching insight entry are left out of
// the result rather than priced at zero.
func (e *Engine) WorkflowCosts(ctx context.Context, workflowIDs []string) (map[string]float64, error) {
	entries, err := e.entries(ctx, workflowIDs)
	if err != nil {
		return nil, err
	}
	res := make(map[string]float64, len(entries))
	for _, entry := range entries {
		res[entry.WorkflowID] = entry.Cost
	}
	return res, nil
}

func (e *Engine) entries(ctx context.Context, workflowIDs []string) ([]models.CostEntry, error) {
	insightsByName := make(map[string]map[string]models.WorkflowInsight)
	seen := make(map[string]bool, len(workflowIDs))
	var entries []models.CostEntry

	for _, id := range workflowIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		wf, err := e.src.GetWorkflow(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
		}
		if wf.Name == e.excluded {
			e.logger.Debug("skipping excluded workflow", "workflow_id", id, "name", wf.Name)
			continue
		}

		insights, ok := insightsByName[wf.Name]
		if !ok {
			items, err := e.src.WorkflowInsights(ctx, wf.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch insights for %q: %w", wf.Name, err)
			}
			insights = make(map[string]models.WorkflowInsight, len(items))
			for _, item := range items {
				if _, dup := insights[item.ID]; !dup {
					insights[item.ID] = item
				}
			}
			insightsByName[wf.Name] = insights
		}

		match, ok := insights[id]
		if !ok {
			e.logger.Debug("no insight entry for workflow", "workflow_id", id, "name", wf.Name)
			continue
		}
		entries = append(entries, models.CostEntry{
			WorkflowID:  id,
			PipelineID:  wf.PipelineID,
			CreditsUsed: match.CreditsUsed,
			Cost:        match.CreditsUsed * e.unitPrice,
		})
	}

	return entries, nil
}

// PipelineCosts sums workflow costs per owning pipeline. Pipelines whose attributed cost
// is not positive are omitted.
func PipelineCosts(pipelineWorkflows map[string][]string, workflowCosts map[string]float64) map[string]float64 {
	res := make(map[string]float64)
	for pipeline, workflows := range pipelineWorkflows {
		var total float64
		for _, wf := range workflows {
			total += workflowCosts[wf]
		}
		if total > 0 {
			res[pipeline] = total
		}
	}
	return res
}

// ActorCosts sums pipeline costs per owning actor. Pipelines missing from pipelineCosts
// contribute nothing.
func ActorCosts(pipelineActor map[string]string, pipelineCosts map[string]float64) map[string]float64 {
	res := make(map[string]float64)
	for pipeline, actor := range pipelineActor {
		c, ok := pipelineCosts[pipeline]
		if !ok {
			continue
		}
		res[actor] += c
	}
	return res
}

// Ledger runs all three attribution stages over resolved workflows
func (e *Engine) Ledger(ctx context.Context, pipelineWorkflows map[string][]string, pipelineActor map[string]string) (*Ledger, error) {
	pipelines := make([]string, 0, len(pipelineWorkflows))
	for p := range pipelineWorkflows {
		pipelines = append(pipelines, p)
	}
	sort.Strings(pipelines)

	var ids []string
	for _, p := range pipelines {
		ids = append(ids, pipelineWorkflows[p]...)
	}

	entries, err := e.entries(ctx, ids)
	if err != nil {
		return nil, err
	}

	ledger := &Ledger{
		Entries:   entries,
		Workflows: make(map[string]float64, len(entries)),
	}
	for _, entry := range entries {
		ledger.Workflows[entry.WorkflowID] = entry.Cost
	}
	ledger.Pipelines = PipelineCosts(pipelineWorkflows, ledger.Workflows)
	ledger.Actors = ActorCosts(pipelineActor, ledger.Pipelines)
	for _, c := range ledger.Actors {
		ledger.Total += c
	}

	e.logger.Info("cost ledger computed",
		"workflows", len(ids),
		"priced", len(entries),
		"pipelines", len(ledger.Pipelines),
		"actors", len(ledger.Actors),
		"total", ledger.Total,
	)
	return ledger, nil
}
