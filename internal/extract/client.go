package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

const (
	defaultTimeout = 60 * time.Second

	// Extraction wants near-deterministic output.
	extractionTemperature = 0.1
)

// Config holds the connection settings for the extraction model.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat API for entity, relation and
// claim extraction.
type Client struct {
	client openai.Client
	model  string
	stats  *LLMStats
	log    *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		stats:  NewLLMStats(time.Hour),
		log:    log,
	}
}

// Complete sends one system+user exchange and returns the completion
// text with any markdown code fence stripped.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, false)
}

// CompleteJSON is Complete with the response format pinned to a JSON object.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, true)
}

func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Temperature: param.NewOpt(extractionTemperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	c.stats.Record(time.Since(start), err)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			if apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500 {
				return "", &RetryableError{StatusCode: apierr.StatusCode, Message: apierr.Message}
			}
			return "", fmt.Errorf("chat completion status %d: %s", apierr.StatusCode, apierr.Message)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return stripCodeBlock(completion.Choices[0].Message.Content), nil
}

// ExtractEntities asks the model for the entities and relations in one
// chapter of text.
func (c *Client) ExtractEntities(ctx context.Context, text string) (*ERResult, error) {
	system, user := erPrompts(text)
	out, err := c.CompleteJSON(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}
	return parseERResult(out)
}

// ExtractClaims asks the model for factual statements in one chapter,
// guided by the entities already extracted from it.
func (c *Client) ExtractClaims(ctx context.Context, text string, entities []Entity) (*ClaimResult, error) {
	system, user := claimPrompts(text, entities)
	out, err := c.CompleteJSON(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("claim extraction: %w", err)
	}
	return parseClaimResult(out)
}

// Stats reports latency aggregates for recent model calls.
func (c *Client) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

func parseERResult(text string) (*ERResult, error) {
	var res ERResult
	if err := json.Unmarshal([]byte(stripCodeBlock(text)), &res); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w (raw: %s)", err, truncate(text, 200))
	}
	return &res, nil
}

func parseClaimResult(text string) (*ClaimResult, error) {
	var res ClaimResult
	if err := json.Unmarshal([]byte(stripCodeBlock(text)), &res); err != nil {
		return nil, fmt.Errorf("parse claims json: %w (raw: %s)", err, truncate(text, 200))
	}
	return &res, nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}
