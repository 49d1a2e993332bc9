package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lumenflow/lumenflow/internal/audit"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// HaikuClient wraps the Anthropic API for memory summarization.
type HaikuClient struct {
	client         anthropic.Client
	model          anthropic.Model
	promptTemplate *template.Template
	maxRetries     int
	initialBackoff time.Duration
	audit          *audit.Log
	actor          string
}

// NewHaikuClient creates a Haiku API client. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey.
func NewHaikuClient(apiKey string) (*HaikuClient, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY environment variable or provide via config", ErrAPIKeyRequired)
	}

	tmpl, err := template.New("summary").Parse(summaryPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary template: %w", err)
	}

	return &HaikuClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          defaultModel,
		promptTemplate: tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// WithAudit enables best-effort llm_call audit entries on every API call.
func (h *HaikuClient) WithAudit(log *audit.Log, actor string) *HaikuClient {
	h.audit = log
	h.actor = actor
	return h
}

// Summarize compresses the deterministic aggregate of a WU's memory into a
// shorter narrative. Callers fall back to the aggregate on error.
func (h *HaikuClient) Summarize(ctx context.Context, wuID, aggregate string) (string, error) {
	var buf strings.Builder
	err := h.promptTemplate.Execute(&buf, struct {
		WUID      string
		Aggregate string
	}{WUID: wuID, Aggregate: aggregate})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	prompt := buf.String()

	resp, callErr := h.callWithRetry(ctx, prompt)
	if h.audit != nil {
		// Best-effort: never fail summarization because audit logging failed.
		e := &audit.Entry{
			Kind:  audit.KindLLMCall,
			Actor: h.actor,
			WUID:  wuID,
			Extra: map[string]any{"model": string(h.model), "prompt": prompt, "response": resp},
		}
		if callErr != nil {
			e.Error = callErr.Error()
		}
		_, _ = h.audit.Append(e)
	}
	return resp, callErr
}

func (h *HaikuClient) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     h.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := h.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := h.client.Messages.New(ctx, params)

		if err == nil {
			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, nil
				}
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", fmt.Errorf("unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", h.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}

const summaryPromptTemplate = `You are summarizing the working memory of a finished coding task for long-term storage. Your goal is to COMPRESS the content - the output MUST be significantly shorter than the input while preserving key technical decisions and outcomes.

**Work Unit:** {{.WUID}}

{{.Aggregate}}

IMPORTANT: Your summary must be shorter than the original. Be concise and eliminate redundancy.

Provide a summary in this exact format:

**Summary:** [2-3 concise sentences covering what was done and why]

**Key Decisions:** [Brief bullet points of only the most important technical choices]

**Outcome:** [One sentence on final state and lasting impact]`
