package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(h)
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), http.MethodGet, "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  bool
		wantCredits bool
	}{
		{"allowed origin", []string{"https://app.example"}, "https://app.example", true, true},
		{"disallowed origin", []string{"https://app.example"}, "https://evil.example", false, false},
		{"wildcard", []string{"*"}, "https://anything.example", true, false},
		{"empty list allows any", nil, "http://localhost:5173", true, false},
		{"no origin header", []string{"*"}, "", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.allowed), http.MethodGet, tc.origin)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.wantCredits, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), http.MethodOptions, "https://app.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestEndpointGuard(t *testing.T) {
	resolver := func(host string) ([]string, error) {
		switch host {
		case "ilp.interledger-test.dev":
			return []string{"34.120.10.5"}, nil
		case "internal.example":
			return []string{"10.0.0.7"}, nil
		}
		return nil, errors.New("no such host")
	}
	strict := NewEndpointGuard(true).WithResolver(resolver)
	lenient := NewEndpointGuard(false).WithResolver(resolver)

	tests := []struct {
		name    string
		guard   *EndpointGuard
		url     string
		wantErr bool
	}{
		{"public https", strict, "https://ilp.interledger-test.dev/alice", false},
		{"http refused when strict", strict, "http://ilp.interledger-test.dev/alice", true},
		{"http allowed when lenient", lenient, "http://ilp.interledger-test.dev/alice", false},
		{"ftp", lenient, "ftp://ilp.interledger-test.dev/alice", true},
		{"localhost", lenient, "http://localhost:8080/x", true},
		{"loopback literal", lenient, "http://127.0.0.1/x", true},
		{"private literal", strict, "https://192.168.1.10/x", true},
		{"metadata", strict, "https://metadata.google.internal/x", true},
		{"resolves private", strict, "https://internal.example/x", true},
		{"unresolvable", strict, "https://nowhere.example/x", true},
		{"no host", strict, "https:///x", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.guard.Check(tc.url)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
