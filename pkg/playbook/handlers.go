package playbook

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quentra/playbook/pkg/llm"
)

// AIGenerator routes generation requests. The llm.Router is the production
// implementation.
type AIGenerator interface {
	RouteRequest(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// EmailBody is the typed body of an Outlook draft.
type EmailBody struct {
	ContentType string `yaml:"contentType"`
	Content     string `yaml:"content"`
}

// Recipient is one draft recipient.
type Recipient struct {
	EmailAddress struct {
		Address string `yaml:"address"`
	} `yaml:"emailAddress"`
}

// OutlookDraft is the payload of a graph_outlook_draft step.
type OutlookDraft struct {
	UserID          string      `yaml:"userId"`
	Subject         string      `yaml:"subject"`
	Body            EmailBody   `yaml:"body"`
	Recipients      []Recipient `yaml:"recipients"`
	SaveToSentItems bool        `yaml:"saveToSentItems"`
}

// TeamsMessage is the payload of a graph_teams_notify step.
type TeamsMessage struct {
	TeamID    string `yaml:"teamId"`
	ChannelID string `yaml:"channelId"`
	Message   string `yaml:"message"`
}

// PlannerTask is the payload of a graph_planner_task step.
type PlannerTask struct {
	PlanID      string `yaml:"planId"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	DueDateTime string `yaml:"dueDateTime"`
	AssignedTo  string `yaml:"assignedTo"`
}

// GraphClient performs the Microsoft Graph effects playbook steps trigger.
// Implemented outside this package; steps treat the calls as opaque.
type GraphClient interface {
	CreateOutlookDraft(ctx context.Context, draft OutlookDraft) (map[string]interface{}, error)
	PostTeamsMessage(ctx context.Context, msg TeamsMessage) (map[string]interface{}, error)
	CreatePlannerTask(ctx context.Context, task PlannerTask) (map[string]interface{}, error)
}

// QueryExecutor runs database_query steps.
type QueryExecutor interface {
	Query(ctx context.Context, query string, params []interface{}) ([]map[string]interface{}, error)
}

// WebhookSender delivers webhook_trigger steps.
type WebhookSender interface {
	Send(ctx context.Context, url, method string, payload interface{}) (map[string]interface{}, error)
}

// Dispatcher executes one step type against resolved config. The Executor
// depends on this interface so tests can substitute handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, stepType StepType, config map[string]interface{}, ec *Context) StepResult
}

// Handlers is the production dispatcher: a closed switch over the step
// vocabulary wired to the injected collaborators.
type Handlers struct {
	AI        AIGenerator
	Graph     GraphClient
	DB        QueryExecutor
	Webhooks  WebhookSender
	Evaluator *ConditionEvaluator
	Logger    *slog.Logger
}

// NewHandlers wires a dispatcher. Nil collaborators make the corresponding
// step types fail with a configuration error result.
func NewHandlers(ai AIGenerator, graph GraphClient, db QueryExecutor, webhooks WebhookSender, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		AI:        ai,
		Graph:     graph,
		DB:        db,
		Webhooks:  webhooks,
		Evaluator: NewConditionEvaluator(logger),
		Logger:    logger,
	}
}

// Dispatch runs the handler for a step type. Handler failures are captured
// in the result, never returned as errors.
func (h *Handlers) Dispatch(ctx context.Context, stepType StepType, config map[string]interface{}, ec *Context) StepResult {
	switch stepType {
	case StepAIGenerate:
		return h.aiGenerate(ctx, config, ec)
	case StepOutlookDraft:
		return h.outlookDraft(ctx, config)
	case StepTeamsNotify:
		return h.teamsNotify(ctx, config)
	case StepPlannerTask:
		return h.plannerTask(ctx, config)
	case StepDatabaseQuery:
		return h.databaseQuery(ctx, config)
	case StepWebhookTrigger:
		return h.webhookTrigger(ctx, config)
	case StepCondition:
		return h.condition(config, ec)
	case StepDelay:
		return h.delay(ctx, config)
	default:
		return failed(fmt.Sprintf("unknown step type %q", stepType), false)
	}
}

func (h *Handlers) aiGenerate(ctx context.Context, config map[string]interface{}, ec *Context) StepResult {
	if h.AI == nil {
		return failed("no AI router configured", false)
	}
	var cfg struct {
		Prompt      string  `yaml:"prompt"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"maxTokens"`
		Temperature float64 `yaml:"temperature"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return failed(err.Error(), false)
	}
	if cfg.Prompt == "" {
		return failed("ai_generate requires a prompt", false)
	}

	resp, err := h.AI.RouteRequest(ctx, llm.Request{
		OrgID:       ec.OrgID,
		UserID:      ec.UserID,
		Prompt:      cfg.Prompt,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return failed(err.Error(), true)
	}
	return StepResult{
		Success: true,
		Data: map[string]interface{}{
			"content":      resp.Content,
			"model":        resp.Model,
			"provider":     resp.Provider,
			"costEUR":      resp.CostEUR,
			"tokensInput":  resp.TokensUsed.Input,
			"tokensOutput": resp.TokensUsed.Output,
			"fallbackUsed": resp.FallbackUsed,
			"requestId":    resp.RequestID,
		},
	}
}

func (h *Handlers) outlookDraft(ctx context.Context, config map[string]interface{}) StepResult {
	if h.Graph == nil {
		return failed("no graph client configured", false)
	}
	var draft OutlookDraft
	if err := decodeConfig(config, &draft); err != nil {
		return failed(err.Error(), false)
	}
	data, err := h.Graph.CreateOutlookDraft(ctx, draft)
	if err != nil {
		return failed(err.Error(), true)
	}
	return StepResult{Success: true, Data: data}
}

func (h *Handlers) teamsNotify(ctx context.Context, config map[string]interface{}) StepResult {
	if h.Graph == nil {
		return failed("no graph client configured", false)
	}
	var msg TeamsMessage
	if err := decodeConfig(config, &msg); err != nil {
		return failed(err.Error(), false)
	}
	data, err := h.Graph.PostTeamsMessage(ctx, msg)
	if err != nil {
		return failed(err.Error(), true)
	}
	return StepResult{Success: true, Data: data}
}

func (h *Handlers) plannerTask(ctx context.Context, config map[string]interface{}) StepResult {
	if h.Graph == nil {
		return failed("no graph client configured", false)
	}
	var task PlannerTask
	if err := decodeConfig(config, &task); err != nil {
		return failed(err.Error(), false)
	}
	data, err := h.Graph.CreatePlannerTask(ctx, task)
	if err != nil {
		return failed(err.Error(), true)
	}
	return StepResult{Success: true, Data: data}
}

func (h *Handlers) databaseQuery(ctx context.Context, config map[string]interface{}) StepResult {
	if h.DB == nil {
		return failed("no query executor configured", false)
	}
	var cfg struct {
		Query  string        `yaml:"query"`
		Params []interface{} `yaml:"params"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return failed(err.Error(), false)
	}
	if cfg.Query == "" {
		return failed("database_query requires a query", false)
	}
	rows, err := h.DB.Query(ctx, cfg.Query, cfg.Params)
	if err != nil {
		return failed(err.Error(), true)
	}
	return StepResult{
		Success: true,
		Data: map[string]interface{}{
			"rows":  rows,
			"count": len(rows),
		},
	}
}

func (h *Handlers) webhookTrigger(ctx context.Context, config map[string]interface{}) StepResult {
	if h.Webhooks == nil {
		return failed("no webhook sender configured", false)
	}
	var cfg struct {
		URL     string      `yaml:"url"`
		Method  string      `yaml:"method"`
		Payload interface{} `yaml:"payload"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return failed(err.Error(), false)
	}
	if cfg.URL == "" {
		return failed("webhook_trigger requires a url", false)
	}
	data, err := h.Webhooks.Send(ctx, cfg.URL, cfg.Method, cfg.Payload)
	if err != nil {
		return failed(err.Error(), true)
	}
	return StepResult{Success: true, Data: data}
}

// condition evaluates its own conditions list. A failed gate is not an
// error to compensate, so compensationRequired stays false.
func (h *Handlers) condition(config map[string]interface{}, ec *Context) StepResult {
	var cfg struct {
		Conditions []Condition `yaml:"conditions"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return failed(err.Error(), false)
	}
	passed := h.Evaluator.EvaluateAll(cfg.Conditions, NewResolver(ec))
	if !passed {
		return StepResult{Success: false, CompensationRequired: false, Error: "condition not met"}
	}
	return StepResult{Success: true, Data: map[string]interface{}{"passed": true}}
}

func (h *Handlers) delay(ctx context.Context, config map[string]interface{}) StepResult {
	var cfg struct {
		Duration int `yaml:"duration"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return failed(err.Error(), false)
	}
	if cfg.Duration < 0 {
		return failed("delay duration must not be negative", false)
	}
	select {
	case <-time.After(time.Duration(cfg.Duration) * time.Millisecond):
		return StepResult{Success: true, Data: map[string]interface{}{"delayedMs": cfg.Duration}}
	case <-ctx.Done():
		return failed(ctx.Err().Error(), false)
	}
}

// decodeConfig maps a resolved config into a typed struct via a YAML
// round-trip, so config shapes live next to the handlers as plain structs.
func decodeConfig(config map[string]interface{}, out interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("invalid step config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("step config does not match its type: %w", err)
	}
	return nil
}

func failed(msg string, compensate bool) StepResult {
	return StepResult{Success: false, Error: msg, CompensationRequired: compensate}
}

// SQLQueryExecutor runs database_query steps against a SQL database.
type SQLQueryExecutor struct {
	db *sql.DB
}

// NewSQLQueryExecutor creates a query executor over an open database.
func NewSQLQueryExecutor(db *sql.DB) *SQLQueryExecutor {
	return &SQLQueryExecutor{db: db}
}

// Query runs a parameterized query and returns generic row maps.
func (e *SQLQueryExecutor) Query(ctx context.Context, query string, params []interface{}) ([]map[string]interface{}, error) {
	rows, err := e.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// HTTPWebhookSender delivers webhook payloads as JSON.
type HTTPWebhookSender struct {
	client *http.Client
}

// NewHTTPWebhookSender creates a sender with the given timeout.
func NewHTTPWebhookSender(timeout time.Duration) *HTTPWebhookSender {
	return &HTTPWebhookSender{client: &http.Client{Timeout: timeout}}
}

// Send issues the webhook request and returns the status plus any JSON
// body the endpoint answered with.
func (s *HTTPWebhookSender) Send(ctx context.Context, url, method string, payload interface{}) (map[string]interface{}, error) {
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	data := map[string]interface{}{"status": resp.StatusCode}
	var parsed interface{}
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		data["response"] = parsed
	}
	return data, nil
}
