package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func hashToken(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestAdminToken(t *testing.T) {
	hash := hashToken(t, "s3cret")

	tests := []struct {
		name   string
		hash   string
		header string
		want   int
	}{
		{"disabled without hash", "", "Bearer s3cret", http.StatusForbidden},
		{"missing header", hash, "", http.StatusUnauthorized},
		{"wrong scheme", hash, "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", hash, "Bearer nope", http.StatusUnauthorized},
		{"valid token", hash, "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AdminToken(tt.hash)(okHandler())
			req := httptest.NewRequest(http.MethodPost, "/_reset_all_dbs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}
