package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewAPIClient(Config{APIURL: ts.URL + "/"}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

// ============================================================
// Client tests
// ============================================================

func TestClient_APIErrorWithKind(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusNotFound, `{"error":"session_not_found","message":"grant session not found"}`))

	_, err := h.client.FinalizePayment(context.Background(), "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "session_not_found", apiErr.Kind)
	assert.Contains(t, err.Error(), "grant session not found")
}

func TestClient_APIErrorNonJSON(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout\n"))
	}))

	_, err := h.client.ListCauses(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewAPIClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListCauses(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_Paths(t *testing.T) {
	type call struct{ method, path string }
	var (
		mu  sync.Mutex
		got []call
	)
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, call{r.Method, r.URL.Path})
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	ctx := context.Background()

	_, _ = h.client.InitiatePayment(ctx, map[string]any{})
	_, _ = h.client.FinalizePayment(ctx, "k")
	_, _ = h.client.SchedulePayment(ctx, map[string]any{})
	_, _ = h.client.ListScheduledPayments(ctx)
	_, _ = h.client.ListPendingApprovals(ctx)
	_, _ = h.client.FinalizeScheduledPayment(ctx, "1760713200000-a1b2")
	_, _ = h.client.CancelScheduledPayment(ctx, "1760713200000-a1b2")
	_, _ = h.client.ListCauses(ctx)
	_, _ = h.client.Donate(ctx, "unicef", "10")
	_, _ = h.client.ServerTime(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []call{
		{"POST", "/v1/payments"},
		{"POST", "/v1/payments/finalize"},
		{"POST", "/v1/scheduled-payments"},
		{"GET", "/v1/scheduled-payments"},
		{"GET", "/v1/scheduled-payments/pending-approvals"},
		{"POST", "/v1/scheduled-payments/1760713200000-a1b2/finalize"},
		{"DELETE", "/v1/scheduled-payments/1760713200000-a1b2"},
		{"GET", "/v1/causes"},
		{"POST", "/v1/donations"},
		{"GET", "/v1/server-time"},
	}, got)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleInitiatePayment(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "$ilp.interledger-test.dev/bob", body["recipient"])
		assert.Equal(t, "150.50", body["amount"])
		assert.Equal(t, "voice", body["kind"])
		assert.NotContains(t, body, "concept")
		respond(http.StatusCreated, `{
			"sessionKey": "5f0c",
			"authorizationUrl": "https://auth.test/interact/1",
			"debitAmount": {"value": "15050", "assetCode": "MXN", "assetScale": 2}
		}`)(w, r)
	}))

	result, err := h.HandleInitiatePayment(context.Background(), makeRequest(map[string]any{
		"recipient": "$ilp.interledger-test.dev/bob",
		"amount":    "150.50",
		"kind":      "voice",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "https://auth.test/interact/1")
	assert.Contains(t, text, "Session key: 5f0c")
	assert.Contains(t, text, "150.50 MXN")
}

func TestHandleInitiatePayment_MissingArgs(t *testing.T) {
	h := NewHandlers(NewAPIClient(Config{APIURL: "http://127.0.0.1:1"}))

	result, err := h.HandleInitiatePayment(context.Background(), makeRequest(map[string]any{"amount": "1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "recipient is required")

	result, err = h.HandleInitiatePayment(context.Background(), makeRequest(map[string]any{"recipient": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "amount is required")
}

func TestHandleFinalizePayment(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5f0c", decodeBody(t, r)["sessionKey"])
		respond(http.StatusOK, `{"outgoingPayment": {
			"id": "https://wallet.test/rs/outgoing-payments/1",
			"debitAmount": {"value": "100", "assetCode": "MXN", "assetScale": 2}
		}}`)(w, r)
	}))

	result, err := h.HandleFinalizePayment(context.Background(), makeRequest(map[string]any{"session_key": "5f0c"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Payment sent.")
	assert.Contains(t, text, "https://wallet.test/rs/outgoing-payments/1")
	assert.Contains(t, text, "1.00 MXN")
}

func TestHandleFinalizePayment_NotApprovedYet(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusConflict, `{"error":"grant_not_finalized","message":"grant not finalized"}`))

	result, err := h.HandleFinalizePayment(context.Background(), makeRequest(map[string]any{"session_key": "5f0c"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "has not approved")
}

func TestHandleSchedulePayment(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "2026-10-17T18:30", body["triggerAt"])
		assert.Equal(t, "Renta", body["description"])
		respond(http.StatusCreated, `{"task": {
			"id": "1760713200000-a1b2", "recipient": "https://ilp.test/bob", "amount": "200",
			"description": "Renta", "triggerAt": "2026-10-17T18:30:00-06:00", "state": "pending"
		}}`)(w, r)
	}))

	result, err := h.HandleSchedulePayment(context.Background(), makeRequest(map[string]any{
		"recipient":   "https://ilp.test/bob",
		"amount":      "200",
		"trigger_at":  "2026-10-17T18:30",
		"description": "Renta",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1760713200000-a1b2 [pending]")
	assert.Contains(t, text, "(Renta)")
}

func TestHandleSchedulePayment_MissingTrigger(t *testing.T) {
	h := NewHandlers(NewAPIClient(Config{APIURL: "http://127.0.0.1:1"}))
	result, err := h.HandleSchedulePayment(context.Background(), makeRequest(map[string]any{
		"recipient": "https://ilp.test/bob", "amount": "200",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "trigger_at is required")
}

func TestHandleListScheduledPayments(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusOK, `{"tasks": [
		{"id": "t1", "state": "awaiting_approval", "amount": "5", "recipient": "r", "authorizationUrl": "https://auth.test/i/1"},
		{"id": "t2", "state": "error", "amount": "7", "recipient": "r", "error": "recipient wallet not found"}
	], "count": 2}`))

	result, err := h.HandleListScheduledPayments(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 scheduled payment(s)")
	assert.Contains(t, text, "Approve at: https://auth.test/i/1")
	assert.Contains(t, text, "Error: recipient wallet not found")
}

func TestHandleListScheduledPayments_Empty(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusOK, `{"tasks": [], "count": 0}`))
	result, err := h.HandleListScheduledPayments(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No scheduled payments.", resultText(t, result))
}

func TestHandleListPendingApprovals(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusOK, `{"approvals": [
		{"taskId": "t1", "amount": "5", "recipient": "https://ilp.test/bob", "description": "Pago programado",
		 "authorizationUrl": "https://auth.test/i/1"}
	], "count": 1}`))

	result, err := h.HandleListPendingApprovals(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "t1: 5 to https://ilp.test/bob")
	assert.Contains(t, text, "finalize_scheduled_payment")
}

func TestHandleFinalizeScheduledPayment(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusOK, `{
		"outgoingPayment": {"id": "op-1", "debitAmount": {"value": "500", "assetCode": "MXN", "assetScale": 2}},
		"task": {"id": "t1", "state": "completed", "amount": "5", "recipient": "r"}
	}`))

	result, err := h.HandleFinalizeScheduledPayment(context.Background(), makeRequest(map[string]any{"task_id": "t1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "op-1")
	assert.Contains(t, text, "t1 [completed]")
}

func TestHandleCancelScheduledPayment(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusConflict, `{"error":"invalid_state","message":"invalid task state for this operation"}`))

	result, err := h.HandleCancelScheduledPayment(context.Background(), makeRequest(map[string]any{"task_id": "t1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid task state")

	result, err = h.HandleCancelScheduledPayment(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListCauses(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusOK, `{"causes": [
		{"id": "cruz-roja", "name": "Cruz Roja Mexicana", "goal": "500000", "raised": "287000", "progress": "57.4"}
	], "count": 1}`))

	result, err := h.HandleListCauses(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Cruz Roja Mexicana (cruz-roja): 287000 of 500000 raised (57.4%)")
}

func TestHandleDonate(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "unicef", body["causeId"])
		assert.Equal(t, "50", body["amount"])
		respond(http.StatusCreated, `{"sessionKey": "d1", "authorizationUrl": "https://auth.test/i/9",
			"cause": {"id": "unicef", "name": "UNICEF México"}}`)(w, r)
	}))

	result, err := h.HandleDonate(context.Background(), makeRequest(map[string]any{"cause_id": "unicef", "amount": "50"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "UNICEF México")
	assert.Contains(t, text, "https://auth.test/i/9")
}

func TestHandleGetServerTime(t *testing.T) {
	h := newTestSetup(t, respond(http.StatusOK, `{"timezone":"America/Mexico_City"}`))
	result, err := h.HandleGetServerTime(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"timezone": "America/Mexico_City"`)
}

func TestAmountString(t *testing.T) {
	tests := []struct {
		in   amount
		want string
	}{
		{amount{"15050", "MXN", 2}, "150.50 MXN"},
		{amount{"5", "MXN", 2}, "0.05 MXN"},
		{amount{"-120", "USD", 2}, "-1.20 USD"},
		{amount{"7", "JPY", 0}, "7 JPY"},
		{amount{}, "-"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.in.String())
	}
}

func TestFormatJSON_InvalidJSON(t *testing.T) {
	assert.Equal(t, "not json", formatJSON(json.RawMessage("not json")))
}
