package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"lawagent-followup/internal/domain"
	"lawagent-followup/internal/usecase"
)

type stubUseCase struct {
	out         usecase.AnswerOutput
	err         error
	in          usecase.AnswerInput
	shouldPanic bool
	calls       int
}

func (s *stubUseCase) Answer(_ context.Context, in usecase.AnswerInput) (usecase.AnswerOutput, error) {
	s.calls++
	s.in = in
	if s.shouldPanic {
		panic("boom")
	}
	return s.out, s.err
}

type stubSpotter struct {
	out usecase.SpotIssuesOutput
	err error
	in  usecase.SpotIssuesInput
}

func (s *stubSpotter) SpotIssues(_ context.Context, in usecase.SpotIssuesInput) (usecase.SpotIssuesOutput, error) {
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/followup",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func mustNewHandler(t *testing.T, uc FollowupUseCase) *Handler {
	t.Helper()
	h, err := NewHandler(uc)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "Send a demand letter."}}
	h := mustNewHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(`{
		"question": "What should I do next?",
		"context": "Issue: breach of contract.",
		"instruction": "Be concise.",
		"history": [
			{"role": "user", "content": "Is this a strong case?"},
			{"role": "assistant", "content": "It appears moderate."}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])

	out := parseBody[followupResponse](t, resp.Body)
	require.Equal(t, "Send a demand letter.", out.Answer)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, "What should I do next?", uc.in.Question)
	require.Equal(t, "Issue: breach of contract.", uc.in.Context)
	require.Equal(t, "Be concise.", uc.in.Instruction)
	require.Empty(t, uc.in.Document)
	require.Equal(t, resp.Headers["X-Correlation-Id"], uc.in.RequestID)
	require.Len(t, uc.in.History, 2)
	require.Equal(t, "assistant", uc.in.History[1].TurnRole())
	require.Equal(t, "It appears moderate.", uc.in.History[1].TurnContent())
}

func TestHandle_HistoryDecodedDefensively(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "ok"}}
	h := mustNewHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(`{
		"question": "Q?",
		"context": "C",
		"document": null,
		"history": [
			{"role": "lawagent", "content": 42, "timestamp": "ignored"},
			{"role": null, "content": true},
			{"content": "no role"}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := usecase.NormalizeHistory(uc.in.History, usecase.DefaultHistoryLimit)
	require.Equal(t, []domain.ChatMessage{
		{Role: "assistant", Content: "42"},
		{Role: "user", Content: "true"},
		{Role: "user", Content: "no role"},
	}, got)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h := mustNewHandler(t, uc)

	cases := []struct {
		body string
		want string
	}{
		{`not-json`, "Request body must be a JSON object."},
		{`[]`, "Request body must be a JSON object."},
		{`{"question": {"nested": true}}`, "Request fields must be text, not objects or arrays."},
		{`{"question": "Q", "context": ["a"]}`, "Request fields must be text, not objects or arrays."},
		{`{"question": "Q", "context": "C", "history": "yesterday"}`, `Field "history" has an invalid type.`},
	}
	for _, tc := range cases {
		resp, err := h.Handle(context.Background(), makeEvent(tc.body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.body)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(usecase.ErrorValidation), out.Error)
		require.Equal(t, tc.want, out.Message, tc.body)
	}
	require.Zero(t, uc.calls)
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "ok"}}
	h := mustNewHandler(t, uc)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"question":"Q?","context":"C"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Q?", uc.in.Question)

	event = makeEvent("%%%")
	event.IsBase64Encoded = true
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	uc := &stubUseCase{}
	h := mustNewHandler(t, uc)

	event := makeEvent("")
	event.HTTPMethod = http.MethodGet
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, http.MethodPost, resp.Headers["Allow"])
	require.Zero(t, uc.calls)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: &usecase.Error{Code: usecase.ErrorValidation, Reason: "empty_question", Message: "question required"}, status: http.StatusBadRequest, code: string(usecase.ErrorValidation)},
		{name: "rejected", err: &usecase.Error{Code: usecase.ErrorRequestRejected, Reason: "provider_bad_request", Message: "too large"}, status: http.StatusBadRequest, code: string(usecase.ErrorRequestRejected)},
		{name: "empty answer", err: &usecase.Error{Code: usecase.ErrorEmptyAnswer, Reason: "empty_completion", Message: "none"}, status: http.StatusBadGateway, code: string(usecase.ErrorEmptyAnswer)},
		{name: "auth", err: &usecase.Error{Code: usecase.ErrorAuth, Reason: "provider_auth", Message: "auth"}, status: http.StatusBadGateway, code: string(usecase.ErrorAuth)},
		{name: "transport", err: &usecase.Error{Code: usecase.ErrorTransport, Reason: "provider_unreachable", Message: "net"}, status: http.StatusBadGateway, code: string(usecase.ErrorTransport)},
		{name: "server", err: &usecase.Error{Code: usecase.ErrorProviderServer, Reason: "provider_server_error", Message: "5xx"}, status: http.StatusBadGateway, code: string(usecase.ErrorProviderServer)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "provider_rate_limited", Message: "wait"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorRateLimited)},
		{name: "unavailable", err: &usecase.Error{Code: usecase.ErrorProviderUnavailable, Reason: "provider_error", Message: "later"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorProviderUnavailable)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "x", Message: "secret detail"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := mustNewHandler(t, &stubUseCase{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(`{"question":"Q?","context":"C"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.NotEmpty(t, out.Message)
		})
	}
}

func TestHandle_ErrorBodyHidesInternalDetail(t *testing.T) {
	cause := errors.New("401 Incorrect API key provided: sk-live-SECRET")
	h := mustNewHandler(t, &stubUseCase{err: &usecase.Error{
		Code:    usecase.ErrorAuth,
		Reason:  "provider_auth",
		Message: "Authentication with the AI provider failed. Check your API key.",
		Err:     cause,
	}})

	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	require.NotContains(t, resp.Body, "sk-live-SECRET")
	require.NotContains(t, resp.Body, "provider_auth")

	h = mustNewHandler(t, &stubUseCase{err: errors.New("stack detail")})
	resp, err = h.Handle(context.Background(), makeEvent(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	require.NotContains(t, resp.Body, "stack detail")
}

func TestHandle_RateLimitedSetsRetryAfter(t *testing.T) {
	h := mustNewHandler(t, &stubUseCase{err: &usecase.Error{Code: usecase.ErrorRateLimited, Message: "wait"}})
	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	require.Equal(t, "30", resp.Headers["Retry-After"])
}

func TestHandle_RecoversPanic(t *testing.T) {
	h := mustNewHandler(t, &stubUseCase{shouldPanic: true})
	event := makeEvent(`{"question":"Q?","context":"C"}`)
	event.Headers["X-Correlation-Id"] = "corr-panic"

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "corr-panic", resp.Headers["X-Correlation-Id"])
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInternal), out.Error)
	require.NotContains(t, resp.Body, "boom")
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "ok"}}
	h := mustNewHandler(t, uc)

	event := makeEvent(`{"question":"Q?","context":"C"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "corr-123", uc.in.RequestID)
}

func TestRouter_Followup(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "routed"}}
	srv := httptest.NewServer(NewRouter(mustNewHandler(t, uc)))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/followup", strings.NewReader(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-http")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "corr-http", res.Header.Get("X-Correlation-Id"))
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "routed", parseBody[followupResponse](t, string(raw)).Answer)
}

func TestRouter_ErrorStatusAndHealth(t *testing.T) {
	uc := &stubUseCase{err: &usecase.Error{Code: usecase.ErrorValidation, Message: "question required"}}
	srv := httptest.NewServer(NewRouter(mustNewHandler(t, uc)))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/followup", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/followup")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHandle_SpotIssues(t *testing.T) {
	uc := &stubUseCase{}
	spotter := &stubSpotter{out: usecase.SpotIssuesOutput{Issues: "- Breach of contract"}}
	h, err := NewHandler(uc, WithIssueSpotter(spotter))
	require.NoError(t, err)

	ev := makeEvent(`{"text":"The supplier failed to deliver."}`)
	ev.Path = "/prod/spot_issues"
	ev.Headers["X-Correlation-Id"] = "corr-spot"
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "- Breach of contract", parseBody[spotIssuesResponse](t, resp.Body).Issues)
	require.Equal(t, usecase.SpotIssuesInput{RequestID: "corr-spot", Text: "The supplier failed to deliver."}, spotter.in)
	require.Zero(t, uc.calls)

	spotter.err = &usecase.Error{Code: usecase.ErrorValidation, Reason: "empty_text", Message: "text required"}
	resp, err = h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "text required", parseBody[errorResponse](t, resp.Body).Message)
}

func TestHandle_SpotIssuesDisabled(t *testing.T) {
	h := mustNewHandler(t, &stubUseCase{})

	ev := makeEvent(`{"text":"doc"}`)
	ev.Path = "/spot_issues"
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", parseBody[errorResponse](t, resp.Body).Error)
}

func TestRouter_Routes(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "routed"}}
	spotter := &stubSpotter{out: usecase.SpotIssuesOutput{Issues: "- issue"}}
	h, err := NewHandler(uc, WithIssueSpotter(spotter))
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/followup", "application/json", strings.NewReader(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	raw, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "routed", parseBody[followupResponse](t, string(raw)).Answer)

	res, err = http.Post(srv.URL+"/spot_issues", "application/json", strings.NewReader(`{"text":"doc"}`))
	require.NoError(t, err)
	raw, err = io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "- issue", parseBody[spotIssuesResponse](t, string(raw)).Issues)
	require.Equal(t, 1, uc.calls)
}

func TestRouter_CORS(t *testing.T) {
	uc := &stubUseCase{out: usecase.AnswerOutput{Answer: "ok"}}
	srv := httptest.NewServer(NewRouter(mustNewHandler(t, uc)))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/followup", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, "http://localhost:5173", res.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.MethodPost, res.Header.Get("Access-Control-Allow-Methods"))
	require.Equal(t, "content-type", res.Header.Get("Access-Control-Allow-Headers"))
	require.Equal(t, "true", res.Header.Get("Access-Control-Allow-Credentials"))
	require.Zero(t, uc.calls)

	req, err = http.NewRequest(http.MethodPost, srv.URL+"/followup", strings.NewReader(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://lawagent.example")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "https://lawagent.example", res.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Correlation-Id", res.Header.Get("Access-Control-Expose-Headers"))

	res, err = http.Post(srv.URL+"/followup", "application/json", strings.NewReader(`{"question":"Q?","context":"C"}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
}
