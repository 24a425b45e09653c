package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"lawagent-followup/internal/domain"
	"lawagent-followup/internal/integrations/openai"
)

const (
	DefaultTemperature = 0.45
	DefaultTimeout     = 45 * time.Second

	outcomeOK = "OK"
)

type LLMClient interface {
	Chat(ctx context.Context, in openai.ChatRequest) (string, error)
}

// OutcomeRecorder stores call metadata. It is optional and never read back.
type OutcomeRecorder interface {
	RecordFollowup(ctx context.Context, rec domain.FollowupRecord) error
}

// Settings is the read-only provider configuration injected at construction.
type Settings struct {
	Model string
	// Temperature zero selects DefaultTemperature.
	Temperature  float64
	Timeout      time.Duration
	HistoryLimit int
}

type FollowupService struct {
	llm      LLMClient
	recorder OutcomeRecorder
	logger   *slog.Logger
	settings Settings
}

type ServiceOption func(*FollowupService)

func WithRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *FollowupService) {
		s.recorder = r
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *FollowupService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewFollowupService(llm LLMClient, settings Settings, opts ...ServiceOption) (*FollowupService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	settings.Model = strings.TrimSpace(settings.Model)
	if settings.Model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if math.IsNaN(settings.Temperature) || settings.Temperature < 0 || settings.Temperature > 2 {
		return nil, errors.New("usecase: temperature must be within [0, 2]")
	}
	if settings.Temperature == 0 {
		settings.Temperature = DefaultTemperature
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = DefaultHistoryLimit
	}
	s := &FollowupService{
		llm:      llm,
		logger:   slog.Default(),
		settings: settings,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Answer produces one follow-up answer. It never retries; every failure is a *Error.
func (s *FollowupService) Answer(ctx context.Context, in AnswerInput) (AnswerOutput, error) {
	started := time.Now()
	req, err := NormalizeRequest(in, s.settings.HistoryLimit)
	if err != nil {
		return AnswerOutput{}, err
	}

	out, err := s.answer(ctx, in.RequestID, req)
	s.record(ctx, in.RequestID, req, out, err, time.Since(started))
	return out, err
}

func (s *FollowupService) answer(ctx context.Context, requestID string, req domain.FollowupRequest) (AnswerOutput, error) {
	answer, err := s.complete(ctx, requestID, "followup", openai.ChatRequest{
		Messages:    buildPromptMessages(req),
		Temperature: s.settings.Temperature,
	})
	if err != nil {
		return AnswerOutput{}, err
	}
	if answer == "" {
		s.logger.Warn("followup provider returned empty answer",
			"correlation_id", requestID,
			"model", s.settings.Model,
		)
		return AnswerOutput{}, newError(ErrorEmptyAnswer, "empty_completion", "The AI did not return a follow-up answer.", nil)
	}
	return AnswerOutput{Answer: answer}, nil
}

// complete runs one bounded provider call and returns the trimmed text.
// Provider failures are logged once and returned as *Error.
func (s *FollowupService) complete(ctx context.Context, requestID, operation string, in openai.ChatRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()

	in.Model = s.settings.Model
	raw, err := s.llm.Chat(callCtx, in)
	if err != nil {
		mapped := mapProviderError(err)
		s.logger.Error(operation+" provider call failed",
			"correlation_id", requestID,
			"code", mapped.Code,
			"reason", mapped.Reason,
			"status", providerStatus(err),
			"model", s.settings.Model,
			"err", err,
		)
		return "", mapped
	}
	return strings.TrimSpace(raw), nil
}

// mapProviderError converts a provider failure into the domain taxonomy.
// Errors that carry no provider classification are treated as KindOther.
func mapProviderError(err error) *Error {
	kind := openai.KindOther
	status := 0
	var pe *openai.ProviderError
	if errors.As(err, &pe) {
		kind = pe.Kind
		status = pe.StatusCode
	}

	switch kind {
	case openai.KindAuthentication:
		return newError(ErrorAuth, "provider_auth", "Authentication with the AI provider failed. Check your API key.", err)
	case openai.KindRateLimit:
		return newError(ErrorRateLimited, "provider_rate_limited", "Rate limit reached. Please wait a moment and try again.", err)
	case openai.KindConnection:
		return newError(ErrorTransport, "provider_unreachable", "Network error: unable to reach the AI service.", err)
	case openai.KindStatus:
		if status >= 500 && status < 600 {
			return newError(ErrorProviderServer, "provider_server_error", "AI provider encountered a server error. Try again later.", err)
		}
		return newError(ErrorRequestRejected, "provider_status_error", "AI request failed. Verify the model and inputs.", err)
	case openai.KindBadRequest:
		return newError(ErrorRequestRejected, "provider_bad_request", "The follow-up request was invalid or too large.", err)
	default:
		return newError(ErrorProviderUnavailable, "provider_error", "The AI service is temporarily unavailable. Try again later.", err)
	}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func providerStatus(err error) int {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0
	}
	return statusErr.HTTPStatusCode()
}

func (s *FollowupService) record(ctx context.Context, requestID string, req domain.FollowupRequest, out AnswerOutput, err error, latency time.Duration) {
	if s.recorder == nil {
		return
	}
	outcome := outcomeOK
	var ucErr *Error
	if errors.As(err, &ucErr) {
		outcome = string(ucErr.Code)
	} else if err != nil {
		outcome = string(ErrorInternal)
	}
	rec := domain.FollowupRecord{
		RequestID:      requestID,
		Model:          s.settings.Model,
		Outcome:        outcome,
		HistoryTurns:   len(req.History),
		HasInstruction: req.Instruction != "",
		HasDocument:    req.Document != "",
		QuestionChars:  len([]rune(req.Question)),
		AnswerChars:    len([]rune(out.Answer)),
		Latency:        latency,
	}
	// Detached from ctx and bounded on its own; the provider deadline may have expired.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := s.recorder.RecordFollowup(recCtx, rec); recErr != nil {
		s.logger.Warn("followup usage record failed",
			"correlation_id", requestID,
			"err", recErr,
		)
	}
}
