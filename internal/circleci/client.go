package circleci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Buildwatch/internal/config"
	"Buildwatch/internal/metrics"
	"Buildwatch/internal/models"

	"golang.org/x/time/rate"
)

// ErrMalformedResponse is returned when a response body cannot be decoded or is
// missing fields the monitor depends on.
var ErrMalformedResponse = errors.New("malformed upstream response")

// APIError is returned for any non-2xx response
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	token   string
	slug    string
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a CircleCI v2 API client scoped to one project
func NewClient(cfg config.CircleCIConfig, met *metrics.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		slug:    cfg.ProjectSlug(),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		metrics: met,
		logger:  logger.With("component", "circleci"),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

type pipelineItem struct {
	ID        string `json:"id"`
	Number    int64  `json:"number"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
	Trigger   struct {
		Actor struct {
			Login string `json:"login"`
		} `json:"actor"`
	} `json:"trigger"`
}

type workflowItem struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipeline_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

type insightItem struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	CreditsUsed *float64 `json:"credits_used"`
}

// ListPipelines returns the first page of the project's pipelines in provider order
func (c *Client) ListPipelines(ctx context.Context) ([]models.Pipeline, error) {
	var result struct {
		Items []pipelineItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "list_pipelines", "/project/"+c.slug+"/pipeline", &result); err != nil {
		return nil, err
	}
	if result.Items == nil {
		return nil, fmt.Errorf("%w: pipeline list has no items", ErrMalformedResponse)
	}

	pipelines := make([]models.Pipeline, 0, len(result.Items))
	for i, item := range result.Items {
		p, err := item.toModel()
		if err != nil {
			return nil, fmt.Errorf("pipeline %d: %w", i, err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

func (item pipelineItem) toModel() (models.Pipeline, error) {
	if item.ID == "" {
		return models.Pipeline{}, fmt.Errorf("%w: pipeline missing id", ErrMalformedResponse)
	}
	if item.Trigger.Actor.Login == "" {
		return models.Pipeline{}, fmt.Errorf("%w: pipeline %s missing trigger actor", ErrMalformedResponse, item.ID)
	}
	if item.CreatedAt == "" {
		return models.Pipeline{}, fmt.Errorf("%w: pipeline %s missing created_at", ErrMalformedResponse, item.ID)
	}
	created, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return models.Pipeline{}, fmt.Errorf("%w: pipeline %s created_at: %v", ErrMalformedResponse, item.ID, err)
	}
	return models.Pipeline{
		ID:         item.ID,
		Number:     item.Number,
		ActorLogin: item.Trigger.Actor.Login,
		CreatedAt:  created.UTC(),
		State:      item.State,
	}, nil
}

// ListWorkflows returns the workflows of a pipeline
func (c *Client) ListWorkflows(ctx context.Context, pipelineID string) ([]models.Workflow, error) {
	var result struct {
		Items []workflowItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "list_workflows", "/pipeline/"+url.PathEscape(pipelineID)+"/workflow", &result); err != nil {
		return nil, err
	}
	if result.Items == nil {
		return nil, fmt.Errorf("%w: workflow list for pipeline %s has no items", ErrMalformedResponse, pipelineID)
	}

	workflows := make([]models.Workflow, 0, len(result.Items))
	for _, item := range result.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("%w: workflow of pipeline %s missing id", ErrMalformedResponse, pipelineID)
		}
		if item.PipelineID == "" {
			item.PipelineID = pipelineID
		}
		workflows = append(workflows, models.Workflow(item))
	}
	return workflows, nil
}

// GetWorkflow fetches a single workflow's metadata
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (models.Workflow, error) {
	var item workflowItem
	if err := c.do(ctx, http.MethodGet, "get_workflow", "/workflow/"+url.PathEscape(workflowID), &item); err != nil {
		return models.Workflow{}, err
	}
	if item.ID == "" || item.Name == "" {
		return models.Workflow{}, fmt.Errorf("%w: workflow %s missing id or name", ErrMalformedResponse, workflowID)
	}
	return models.Workflow(item), nil
}

// WorkflowInsights returns the recent-runs insight entries for a named workflow
func (c *Client) WorkflowInsights(ctx context.Context, name string) ([]models.WorkflowInsight, error) {
	var result struct {
		Items []insightItem `json:"items"`
	}
	path := "/insights/" + c.slug + "/workflows/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodGet, "workflow_insights", path, &result); err != nil {
		return nil, err
	}
	if result.Items == nil {
		return nil, fmt.Errorf("%w: insights for workflow %q have no items", ErrMalformedResponse, name)
	}

	insights := make([]models.WorkflowInsight, 0, len(result.Items))
	for _, item := range result.Items {
		if item.ID == "" || item.CreditsUsed == nil {
			return nil, fmt.Errorf("%w: insight entry for workflow %q missing id or credits_used", ErrMalformedResponse, name)
		}
		insights = append(insights, models.WorkflowInsight{
			ID:          item.ID,
			Status:      item.Status,
			CreditsUsed: *item.CreditsUsed,
		})
	}
	return insights, nil
}

// CancelWorkflow asks CircleCI to cancel a workflow. Already finished workflows are a
// no-op on the provider side.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.do(ctx, http.MethodPost, "cancel_workflow", "/workflow/"+url.PathEscape(workflowID)+"/cancel", nil)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Circle-Token", c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	c.observe(endpoint, start, resp, err)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("circleci request",
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

func (c *Client) observe(endpoint string, start time.Time, resp *http.Response, err error) {
	if c.metrics == nil {
		return
	}
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.APIRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
