package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postRPC(t *testing.T, s *Server, body string, mutate func(*http.Request)) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4000"
	if mutate != nil {
		mutate(req)
	}
	recorder := httptest.NewRecorder()
	s.handle(recorder, req)
	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return recorder, resp
}

func TestClientSourceIgnoresForwardedForWhenNotTrusted(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if source := server.clientSource(req); source != "10.0.0.5" {
		t.Fatalf("expected remote address, got %q", source)
	}
}

func TestClientSourceHonorsForwardedForWhenTrusted(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret", TrustProxyHeaders: true})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:7000"
	req.Header.Set("X-Forwarded-For", "198.51.100.8")

	if source := server.clientSource(req); source != "198.51.100.8" {
		t.Fatalf("expected forwarded client, got %q", source)
	}
}

func TestClientSourceCanonicalizesForwardedFor(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret", TrustProxyHeaders: true})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:7000"
	req.Header.Set("X-Forwarded-For", " 198.51.100.9:443 , 10.0.0.1")

	if source := server.clientSource(req); source != "198.51.100.9" {
		t.Fatalf("expected canonical forwarded client, got %q", source)
	}
}

func TestSourceLimiterDisabledAdmitsAll(t *testing.T) {
	limiter := newSourceLimiter(0, 0)
	if limiter != nil {
		t.Fatalf("zero rate should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !limiter.allow("198.51.100.1") {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}

func TestSourceLimiterEnforcesBurstPerSource(t *testing.T) {
	limiter := newSourceLimiter(60, 2)
	if !limiter.allow("a") || !limiter.allow("a") {
		t.Fatalf("burst of 2 should admit the first two requests")
	}
	if limiter.allow("a") {
		t.Fatalf("third immediate request should be throttled")
	}
	if !limiter.allow("b") {
		t.Fatalf("distinct source must not share the bucket")
	}
}

func TestSourceLimiterCapsTrackedSources(t *testing.T) {
	limiter := newSourceLimiter(60_000, 1)
	for i := 0; i < limiterMaxEntries+10; i++ {
		limiter.allow(fmt.Sprintf("198.51.%d.%d", i/250, i%250))
	}
	limiter.mu.Lock()
	tracked := len(limiter.visitors)
	limiter.mu.Unlock()
	if tracked > limiterMaxEntries {
		t.Fatalf("limiter tracks %d sources, cap is %d", tracked, limiterMaxEntries)
	}
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	recorder, resp := postRPC(t, server, "{not json", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestHandleRejectsEmptyBody(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	recorder, resp := postRPC(t, server, "   ", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
}

func TestHandleRejectsVersionMismatch(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	_, resp := postRPC(t, server, `{"jsonrpc":"1.0","method":"market_list","id":1}`, nil)
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "jsonrpc version") {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestHandleRejectsMissingMethod(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	_, resp := postRPC(t, server, `{"jsonrpc":"2.0","id":1}`, nil)
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
	if resp.Error.Message != "method required" {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	body := `{"jsonrpc":"2.0","method":"market_list","id":1,"pad":"` +
		strings.Repeat("x", maxRequestBytes) + `"}`
	recorder, resp := postRPC(t, server, body, nil)
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", recorder.Code)
	}
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "exceeds") {
		t.Fatalf("expected size limit error, got %+v", resp.Error)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	recorder, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"market_destroy","id":1}`, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestMutatingMethodRequiresAuthorizationHeader(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	recorder, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"market_mint","id":1}`, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}
	if resp.Error.Message != "missing Authorization header" {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
}

func TestMutatingMethodRejectsBadCredentials(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret"})
	for header, want := range map[string]string{
		"Basic secret":   "Authorization header must use Bearer scheme",
		"Bearer ":        "missing bearer token",
		"Bearer wrong":   "invalid RPC credentials",
		"Bearer secrets": "invalid RPC credentials",
	} {
		recorder, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"admin_fund","id":1}`, func(r *http.Request) {
			r.Header.Set("Authorization", header)
		})
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected status 401, got %d", header, recorder.Code)
		}
		if resp.Error == nil || resp.Error.Message != want {
			t.Fatalf("%q: expected %q, got %+v", header, want, resp.Error)
		}
	}
}

func TestMutatingMethodRejectsWhenTokenUnconfigured(t *testing.T) {
	t.Setenv(authTokenEnv, "")
	server := NewServer(nil, ServerConfig{})
	recorder, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"market_mint","id":1}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer anything")
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Message != "RPC authentication token not configured" {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
}

func TestAuthTokenFallsBackToEnvironment(t *testing.T) {
	t.Setenv(authTokenEnv, "from-env")
	server := NewServer(nil, ServerConfig{})
	if server.authToken != "from-env" {
		t.Fatalf("expected env token, got %q", server.authToken)
	}
}

func TestRateLimitThrottlesMutatingCalls(t *testing.T) {
	server := NewServer(nil, ServerConfig{AuthToken: "secret", RateLimitPerMinute: 60, RateBurst: 1})
	authed := func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }

	// First call clears auth and the limiter, then fails on params; the
	// nil node is never reached.
	_, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"market_accrue","id":1}`, authed)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("first call should reach the handler, got %+v", resp.Error)
	}

	recorder, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"market_accrue","id":2}`, authed)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeRateLimited {
		t.Fatalf("expected rate limit error, got %+v", resp.Error)
	}
}

func TestViewMethodsSkipAuthAndLimits(t *testing.T) {
	server, _ := newHandlerServer(t)
	_, resp := postRPC(t, server, `{"jsonrpc":"2.0","method":"market_list","id":1}`, nil)
	if resp.Error != nil {
		t.Fatalf("unauthenticated view failed: %+v", resp.Error)
	}
	assets, ok := resp.Result.([]interface{})
	if !ok || len(assets) != 0 {
		t.Fatalf("expected empty listing, got %v", resp.Result)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	server, _ := newHandlerServer(t)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz: status %d body %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
}
