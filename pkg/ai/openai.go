package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "creverse",
		Subsystem: "ai",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of AI evaluation requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creverse",
		Subsystem: "ai",
		Name:      "evaluation_failures_total",
		Help:      "Number of AI evaluation transport failures",
	}, []string{"model"})

	aiRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creverse",
		Subsystem: "ai",
		Name:      "evaluation_repairs_total",
		Help:      "Number of model responses recovered locally, by repair kind",
	}, []string{"model", "kind"})
)

// OpenAIConfig defines configuration options for the evaluator. Setting
// AzureEndpoint switches the client to an Azure OpenAI deployment.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	AzureEndpoint   string
	AzureDeployment string
	APIVersion      string
	Model           string
	MaxTokens       int
	Temperature     float32
	Language        string
	JSONMode        bool
	Timeout         time.Duration
	Logger          zerolog.Logger
	Recorder        CallRecorder
}

// OpenAIEvaluator implements Evaluator against the chat completion API.
type OpenAIEvaluator struct {
	client   *openai.Client
	cfg      OpenAIConfig
	endpoint string
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewOpenAIEvaluator builds a new evaluator using the provided configuration.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	var config openai.ClientConfig
	endpoint := "openai"
	if cfg.AzureEndpoint != "" {
		if cfg.AzureDeployment == "" {
			return nil, fmt.Errorf("azure openai deployment is required")
		}
		config = openai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(cfg.AzureEndpoint, "/"))
		if cfg.APIVersion != "" {
			config.APIVersion = cfg.APIVersion
		}
		deployment := cfg.AzureDeployment
		config.AzureModelMapperFunc = func(string) string { return deployment }
		endpoint = "azure:" + deployment
	} else {
		config = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
	}
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIEvaluator{
		client:   openai.NewClientWithConfig(config),
		cfg:      cfg,
		endpoint: endpoint,
		tracer:   otel.Tracer("github.com/YubinShin/creverse/pkg/ai/openai"),
		logger:   logger.With().Str("component", "ai_evaluator").Logger(),
	}, nil
}

// Evaluate sends a single grading request. Transport errors are returned;
// malformed model output is repaired locally.
func (e *OpenAIEvaluator) Evaluate(parent context.Context, input EvaluationInput) (EvaluationResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.evaluate", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("trace_id", input.TraceID),
		attribute.String("component_type", input.ComponentType),
	))
	defer span.End()

	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: evaluatorSystemPrompt(e.cfg.Language),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserPrompt(input),
			},
		},
	}
	if e.cfg.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(e.cfg.Model).Observe(duration.Seconds())
	e.record(ctx, input, duration, err)

	callLogger := e.logger.With().
		Str("trace_id", input.TraceID).
		Str("endpoint", e.endpoint).
		Int64("latency_ms", duration.Milliseconds()).
		Logger()

	if err != nil {
		aiFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		callLogger.Error().Err(err).Msg("evaluation request failed")
		return EvaluationResult{}, fmt.Errorf("openai evaluate: %w", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	result := RepairResponse(content)
	if result.Repair != RepairNone {
		aiRepairs.WithLabelValues(e.cfg.Model, result.Repair).Inc()
	}
	if result.Repair == RepairFormatError || result.Repair == RepairSchemaMismatch {
		callLogger.Warn().Str("repair", result.Repair).Str("raw", truncateRunes(content, 500)).Msg("model response replaced by fallback")
	}

	span.SetAttributes(attribute.Int("score", result.Score))
	callLogger.Info().
		Int("score", result.Score).
		Int("highlights", len(result.Highlights)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("evaluation completed")

	return result, nil
}

func (e *OpenAIEvaluator) record(ctx context.Context, input EvaluationInput, latency time.Duration, err error) {
	if e.cfg.Recorder == nil {
		return
	}
	e.cfg.Recorder.RecordCall(ctx, CallRecord{
		SubmissionID: input.SubmissionID,
		TraceID:      input.TraceID,
		Model:        e.cfg.Model,
		Endpoint:     e.endpoint,
		Latency:      latency,
		Err:          err,
	})
}
