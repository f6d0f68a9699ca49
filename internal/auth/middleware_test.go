package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func Test_NewAuthMiddleware_Cases(t *testing.T) {
	const token = "scrape-token"

	tests := []struct {
		name   string
		token  string
		path   string
		header *string
		wantOK bool
	}{
		{name: "valid token on /mcp", token: token, path: "/mcp", header: ptr("Bearer scrape-token"), wantOK: true},
		{name: "valid token on /metrics", token: token, path: "/metrics", header: ptr("Bearer scrape-token"), wantOK: true},
		{name: "no header", token: token, path: "/mcp"},
		{name: "empty header", token: token, path: "/mcp", header: ptr("")},
		{name: "wrong token", token: token, path: "/metrics", header: ptr("Bearer nope")},
		{name: "basic scheme", token: token, path: "/mcp", header: ptr("Basic c2NyYXBlLXRva2Vu")},
		{name: "lowercase scheme", token: token, path: "/mcp", header: ptr("bearer scrape-token")},
		{name: "scheme only", token: token, path: "/mcp", header: ptr("Bearer")},
		{name: "scheme and space", token: token, path: "/mcp", header: ptr("Bearer ")},
		{name: "double space", token: token, path: "/mcp", header: ptr("Bearer  scrape-token")},
		{name: "token prefix", token: token, path: "/mcp", header: ptr("Bearer scrape")},
		{name: "token with suffix", token: token, path: "/mcp", header: ptr("Bearer scrape-token-2")},
		{name: "auth disabled without header", token: "", path: "/mcp", wantOK: true},
		{name: "auth disabled with any header", token: "", path: "/metrics", header: ptr("Bearer whatever"), wantOK: true},
		{name: "public path without header", token: token, path: "/healthz", wantOK: true},
		{name: "public path is exact", token: token, path: "/healthz/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := NewAuthMiddleware(tt.token, "/healthz")(okHandler(&called))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != nil {
				req.Header.Set("Authorization", *tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if called != tt.wantOK {
				t.Errorf("next called = %v, want %v", called, tt.wantOK)
			}
			if tt.wantOK {
				if rr.Code != http.StatusOK {
					t.Errorf("status = %d, want 200", rr.Code)
				}
				return
			}
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer realm="upsmon"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
		})
	}
}

func Test_NewAuthMiddleware_Mux(t *testing.T) {
	var mcpCalled, metricsCalled bool
	mux := http.NewServeMux()
	mux.Handle("/mcp", okHandler(&mcpCalled))
	mux.Handle("/metrics", okHandler(&metricsCalled))
	handler := NewAuthMiddleware("t0k3n")(mux)

	for _, path := range []string{"/mcp", "/metrics"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if mcpCalled || metricsCalled {
		t.Fatal("unauthenticated requests reached the mux")
	}

	for _, path := range []string{"/mcp", "/metrics"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer t0k3n")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if !mcpCalled || !metricsCalled {
		t.Errorf("authenticated requests: mcp=%v metrics=%v, want both", mcpCalled, metricsCalled)
	}
}

func ptr(s string) *string { return &s }
