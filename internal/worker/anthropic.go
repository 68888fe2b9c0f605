package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/converge/internal/dispatch"
	"github.com/steveyegge/converge/internal/telemetry"
)

const (
	maxRetries       = 3
	initialBackoff   = 1 * time.Second
	defaultMaxTokens = 4096
	aiScopeName      = "github.com/steveyegge/converge/ai"
)

// ErrAPIKeyRequired is returned when no Anthropic API key is available.
var ErrAPIKeyRequired = errors.New("API key required")

// Anthropic reviews through the Anthropic Messages API.
type Anthropic struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	maxRetries     uint64
	initialBackoff time.Duration
}

// NewAnthropic creates an API executor. Env var ANTHROPIC_API_KEY takes
// precedence over an explicit apiKey.
func NewAnthropic(apiKey, model string, maxTokens int, opts ...option.RequestOption) (*Anthropic, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or switch worker.backend to command", ErrAPIKeyRequired)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &Anthropic{
		client:         anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:          anthropic.Model(model),
		maxTokens:      int64(maxTokens),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter(aiScopeName)
	aiMetrics.inputTokens, _ = m.Int64Counter("converge.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("converge.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("converge.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

// Execute implements dispatch.Executor.
func (a *Anthropic) Execute(ctx context.Context, task dispatch.Task) (string, error) {
	prompt, err := Prompt(task)
	if err != nil {
		return "", err
	}

	ctx, span := telemetry.Tracer(aiScopeName).Start(ctx, "anthropic.messages.new")
	defer span.End()
	modelAttr := attribute.String("converge.ai.model", string(a.model))
	span.SetAttributes(
		modelAttr,
		attribute.String("converge.gate", task.Gate),
		attribute.String("converge.perspective", task.Perspective.ID),
	)

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	attempts := 0
	var text string
	call := func() error {
		attempts++
		t0 := time.Now()
		message, err := a.client.Messages.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ms := float64(time.Since(t0).Milliseconds())
		if aiMetrics.inputTokens != nil {
			aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
			aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
			aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
		}
		span.SetAttributes(
			attribute.Int64("converge.ai.input_tokens", message.Usage.InputTokens),
			attribute.Int64("converge.ai.output_tokens", message.Usage.OutputTokens),
		)

		var parts []string
		for _, block := range message.Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) == 0 {
			return backoff.Permanent(fmt.Errorf("unexpected response format: no text blocks"))
		}
		text = strings.Join(parts, "\n")
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.initialBackoff
	bo.MaxElapsedTime = 0
	err = backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(bo, a.maxRetries), ctx))
	span.SetAttributes(attribute.Int("converge.ai.attempts", attempts))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("anthropic review %s/%s failed after %d attempt(s): %w", task.Gate, task.Perspective.ID, attempts, err)
	}
	return text, nil
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
