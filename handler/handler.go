package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"lawagent-followup/internal/domain"
	"lawagent-followup/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	retryAfterSeconds = "30"
	genericMessage    = "Unable to generate a follow-up answer."
	spotIssuesSuffix  = "/spot_issues"
)

const errorNotFound usecase.ErrorCode = "NOT_FOUND"

type FollowupUseCase interface {
	Answer(ctx context.Context, in usecase.AnswerInput) (usecase.AnswerOutput, error)
}

type IssueSpotter interface {
	SpotIssues(ctx context.Context, in usecase.SpotIssuesInput) (usecase.SpotIssuesOutput, error)
}

type followupRequest struct {
	Question    flexString     `json:"question"`
	Context     flexString     `json:"context"`
	Instruction flexString     `json:"instruction"`
	Document    flexString     `json:"document"`
	History     []historyEntry `json:"history"`
}

type historyEntry struct {
	Role    flexString `json:"role"`
	Content flexString `json:"content"`
}

func (h historyEntry) TurnRole() string    { return string(h.Role) }
func (h historyEntry) TurnContent() string { return string(h.Content) }

type followupResponse struct {
	Answer string `json:"answer"`
}

type spotIssuesRequest struct {
	Text flexString `json:"text"`
}

type spotIssuesResponse struct {
	Issues string `json:"issues"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errFieldType marks a request field holding an object or array.
var errFieldType = errors.New("handler: field must be a scalar value")

// flexString accepts a JSON string, number, boolean or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*f = ""
		return nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	case raw == "true" || raw == "false":
		*f = flexString(raw)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: got %.40s", errFieldType, raw)
	}
	*f = flexString(n.String())
	return nil
}

type Handler struct {
	uc      FollowupUseCase
	spotter IssueSpotter
	logger  *slog.Logger
}

type Option func(*Handler)

// WithIssueSpotter enables the spot_issues route.
func WithIssueSpotter(s IssueSpotter) Option {
	return func(h *Handler) {
		h.spotter = s
	}
}

func NewHandler(uc FollowupUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: follow-up use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves POST /followup and POST /spot_issues behind API Gateway.
// Paths ending in /spot_issues go to the issue spotter; every other path is a
// follow-up. Application failures are encoded in the response; the returned
// error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	correlationID := resolveCorrelationID(req.Headers)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panic", "correlation_id", correlationID, "panic", r)
			resp, err = errorJSON(correlationID, http.StatusInternalServerError, usecase.ErrorInternal, genericMessage), nil
		}
	}()

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		out := errorJSON(correlationID, http.StatusMethodNotAllowed, usecase.ErrorValidation, "Method not allowed.")
		out.Headers["Allow"] = http.MethodPost
		return out, nil
	}

	body := req.Body
	if req.IsBase64Encoded {
		decoded, decErr := base64.StdEncoding.DecodeString(body)
		if decErr != nil {
			return errorJSON(correlationID, http.StatusBadRequest, usecase.ErrorValidation, "Request body is not valid base64."), nil
		}
		body = string(decoded)
	}

	if strings.HasSuffix(strings.TrimRight(req.Path, "/"), spotIssuesSuffix) {
		return h.spotIssues(ctx, correlationID, body), nil
	}

	var in followupRequest
	if msg, ok := h.decode(correlationID, body, &in); !ok {
		return errorJSON(correlationID, http.StatusBadRequest, usecase.ErrorValidation, msg), nil
	}

	out, ucErr := h.uc.Answer(ctx, toAnswerInput(correlationID, in))
	if ucErr != nil {
		return h.mapError(correlationID, ucErr), nil
	}
	return okJSON(correlationID, followupResponse{Answer: out.Answer}), nil
}

func (h *Handler) spotIssues(ctx context.Context, correlationID, body string) events.APIGatewayProxyResponse {
	if h.spotter == nil {
		return errorJSON(correlationID, http.StatusNotFound, errorNotFound, "Route not found.")
	}
	var in spotIssuesRequest
	if msg, ok := h.decode(correlationID, body, &in); !ok {
		return errorJSON(correlationID, http.StatusBadRequest, usecase.ErrorValidation, msg)
	}
	out, err := h.spotter.SpotIssues(ctx, usecase.SpotIssuesInput{RequestID: correlationID, Text: string(in.Text)})
	if err != nil {
		return h.mapError(correlationID, err)
	}
	return okJSON(correlationID, spotIssuesResponse{Issues: out.Issues})
}

// decode unmarshals body into v and returns a caller-safe message on failure.
func (h *Handler) decode(correlationID, body string, v any) (string, bool) {
	err := json.Unmarshal([]byte(body), v)
	if err == nil {
		return "", true
	}
	h.logger.Warn("request decode failed", "correlation_id", correlationID, "err", err)

	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, errFieldType):
		return "Request fields must be text, not objects or arrays.", false
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return fmt.Sprintf("Field %q has an invalid type.", typeErr.Field), false
	default:
		return "Request body must be a JSON object.", false
	}
}

func toAnswerInput(correlationID string, in followupRequest) usecase.AnswerInput {
	history := make([]domain.Turn, 0, len(in.History))
	for _, entry := range in.History {
		history = append(history, entry)
	}
	return usecase.AnswerInput{
		RequestID:   correlationID,
		Question:    string(in.Question),
		Context:     string(in.Context),
		Instruction: string(in.Instruction),
		Document:    string(in.Document),
		History:     history,
	}
}

func (h *Handler) mapError(correlationID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.logger.Error("followup unexpected error", "correlation_id", correlationID, "err", err)
		return errorJSON(correlationID, http.StatusInternalServerError, usecase.ErrorInternal, genericMessage)
	}

	status := statusForCode(ucErr.Code)
	message := ucErr.Message
	if status == http.StatusInternalServerError || message == "" {
		message = genericMessage
	}
	resp := errorJSON(correlationID, status, ucErr.Code, message)
	if ucErr.Code == usecase.ErrorRateLimited {
		resp.Headers["Retry-After"] = retryAfterSeconds
	}
	return resp
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation, usecase.ErrorRequestRejected:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited, usecase.ErrorProviderUnavailable:
		return http.StatusServiceUnavailable
	case usecase.ErrorEmptyAnswer, usecase.ErrorAuth, usecase.ErrorTransport, usecase.ErrorProviderServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func resolveCorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func okJSON(correlationID string, body any) events.APIGatewayProxyResponse {
	return jsonResponse(correlationID, http.StatusOK, body)
}

func errorJSON(correlationID string, status int, code usecase.ErrorCode, message string) events.APIGatewayProxyResponse {
	return jsonResponse(correlationID, status, errorResponse{Error: string(code), Message: message})
}

func jsonResponse(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR","message":"` + genericMessage + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(buf),
	}
}
