package payments

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/openpayments/openpaymentstest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *Service, *openpaymentstest.Network) {
	t.Helper()
	svc, network, _ := setupTestService(t)
	svc.WithCauses(newFakeCauses())

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r, svc, network
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func TestInitiatePayment_Success(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w, resp := doJSON(t, r, "POST", "/v1/payments", map[string]any{
		"amount":    "10.50",
		"recipient": "$ilp.test/bob",
		"concept":   "Tacos",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, resp["sessionKey"])
	assert.NotEmpty(t, resp["authorizationUrl"])
	debit := resp["debitAmount"].(map[string]any)
	assert.Equal(t, "1050", debit["value"])
}

func TestInitiatePayment_NumericAmount(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w, _ := doJSON(t, r, "POST", "/v1/payments", map[string]any{
		"amount":    25,
		"recipient": recipientURL,
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestInitiatePayment_ValidationErrors(t *testing.T) {
	r, _, network := setupTestRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing recipient", map[string]any{"amount": "1"}},
		{"zero amount", map[string]any{"amount": "0", "recipient": recipientURL}},
		{"bad recipient", map[string]any{"amount": "1", "recipient": "not a wallet"}},
		{"bad session key", map[string]any{"amount": "1", "recipient": recipientURL, "sessionKey": "a b"}},
		{"malformed body", "not an object"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := doJSON(t, r, "POST", "/v1/payments", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, KindValidation, resp["error"])
		})
	}
	assert.Zero(t, network.Calls(openpayments.OpResolveWallet))
}

func TestInitiatePayment_UpstreamFailureStatus(t *testing.T) {
	r, _, network := setupTestRouter(t)
	network.Fail(openpayments.OpCreateQuote, &openpayments.TransportError{Operation: openpayments.OpCreateQuote, Status: 503})

	w, resp := doJSON(t, r, "POST", "/v1/payments", map[string]any{
		"amount":    "1",
		"recipient": recipientURL,
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, KindUpstreamTransport, resp["error"])
}

func TestFinalizePayment(t *testing.T) {
	r, _, network := setupTestRouter(t)

	w, resp := doJSON(t, r, "POST", "/v1/payments", map[string]any{"amount": "2", "recipient": recipientURL})
	require.Equal(t, http.StatusCreated, w.Code)
	key := resp["sessionKey"].(string)

	w, resp = doJSON(t, r, "POST", "/v1/payments/finalize", map[string]any{"sessionKey": key})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, KindGrantNotFinalized, resp["error"])

	network.Approve(authorizationURL(t, r, key))

	w, resp = doJSON(t, r, "POST", "/v1/payments/finalize", map[string]any{"sessionKey": key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := resp["outgoingPayment"].(map[string]any)
	assert.NotEmpty(t, out["id"])

	w, resp = doJSON(t, r, "POST", "/v1/payments/finalize", map[string]any{"sessionKey": key})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, KindSessionNotFound, resp["error"])
}

// authorizationURL reads a pending session's approval link through the API.
func authorizationURL(t *testing.T, r http.Handler, key string) string {
	t.Helper()
	w, resp := doJSON(t, r, "GET", "/v1/payments/sessions/"+key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return resp["session"].(map[string]any)["authorizationUrl"].(string)
}

func TestFinalizePayment_MissingKey(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w, resp := doJSON(t, r, "POST", "/v1/payments/finalize", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, KindValidation, resp["error"])
}

func TestSessionsEndpoints(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	for _, key := range []string{"s1", "s2"} {
		w, _ := doJSON(t, r, "POST", "/v1/payments", map[string]any{
			"amount": "1", "recipient": recipientURL, "sessionKey": key,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, resp := doJSON(t, r, "GET", "/v1/payments/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, resp["count"])
	for _, s := range resp["sessions"].([]any) {
		_, leaked := s.(map[string]any)["continueToken"]
		assert.False(t, leaked, "session view must not expose grant secrets")
	}

	w, _ = doJSON(t, r, "DELETE", "/v1/payments/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = doJSON(t, r, "GET", "/v1/payments/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, KindSessionNotFound, resp["error"])

	w, _ = doJSON(t, r, "DELETE", "/v1/payments/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDonateEndpoint(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	w, resp := doJSON(t, r, "POST", "/v1/donations", map[string]any{"causeId": "cruz-roja", "amount": "100"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, resp["authorizationUrl"])
	cause := resp["cause"].(map[string]any)
	assert.Equal(t, "Cruz Roja Mexicana", cause["name"])

	w, resp = doJSON(t, r, "POST", "/v1/donations", map[string]any{"causeId": "nope", "amount": "100"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, KindNotFound, resp["error"])

	w, _ = doJSON(t, r, "POST", "/v1/donations", map[string]any{"amount": "100"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionsEndpoint_Paging(t *testing.T) {
	r, _, _ := setupTestRouter(t)

	for _, key := range []string{"p1", "p2", "p3"} {
		w, _ := doJSON(t, r, "POST", "/v1/payments", map[string]any{
			"amount": "1", "recipient": recipientURL, "sessionKey": key,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, resp := doJSON(t, r, "GET", "/v1/payments/sessions?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, resp["count"])
	next, _ := resp["nextCursor"].(string)
	require.NotEmpty(t, next)

	w, resp = doJSON(t, r, "GET", "/v1/payments/sessions?limit=2&cursor="+next, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp["count"])
	assert.NotContains(t, resp, "nextCursor")

	w, resp = doJSON(t, r, "GET", "/v1/payments/sessions?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, KindValidation, resp["error"])
}
