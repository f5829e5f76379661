package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inkwell/inkwell/internal/auth"
	"github.com/inkwell/inkwell/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestWithScopes(scopes []string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if scopes == nil {
		return req
	}
	authCtx := &model.AuthContext{
		KeyID:  "key-1",
		UserID: "user-1",
		Scopes: scopes,
	}
	return req.WithContext(auth.ContextWithAuth(req.Context(), authCtx))
}

func TestRequireScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		scopes     []string
		required   []string
		wantStatus int
	}{
		{
			name:       "has required scope",
			scopes:     []string{model.ScopeRead},
			required:   []string{model.ScopeRead},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing required scope",
			scopes:     []string{model.ScopeRead},
			required:   []string{model.ScopeWrite},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "admin grants everything",
			scopes:     []string{model.ScopeAdmin},
			required:   []string{model.ScopeWrite},
			wantStatus: http.StatusOK,
		},
		{
			name:       "any of multiple required scopes",
			scopes:     []string{model.ScopeWrite},
			required:   []string{model.ScopeRead, model.ScopeWrite},
			wantStatus: http.StatusOK,
		},
		{
			name:       "no auth context",
			scopes:     nil,
			required:   []string{model.ScopeRead},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty scopes",
			scopes:     []string{},
			required:   []string{model.ScopeRead},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := RequireScope(tt.required...)(okHandler())
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, requestWithScopes(tt.scopes))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireConvenienceWrappers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mw         func(http.Handler) http.Handler
		scopes     []string
		wantStatus int
	}{
		{"read allows read", RequireRead(), []string{model.ScopeRead}, http.StatusOK},
		{"write rejects read", RequireWrite(), []string{model.ScopeRead}, http.StatusForbidden},
		{"admin rejects write", RequireAdmin(), []string{model.ScopeWrite}, http.StatusForbidden},
		{"admin allows admin", RequireAdmin(), []string{model.ScopeAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := tt.mw(okHandler())
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, requestWithScopes(tt.scopes))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
