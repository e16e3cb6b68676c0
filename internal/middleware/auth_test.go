package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/utils"
)

const secret = "middleware-secret"

func echoIdentity(t *testing.T, seen *models.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			t.Error("Identity missing from context")
		}
		*seen = id
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth(t *testing.T) {
	agent := models.Identity{SubjectID: "agent-7", Role: models.RoleDeliveryAgent}
	good, err := utils.GenerateAccessToken(agent, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	expired, _ := utils.GenerateAccessToken(agent, secret, -time.Minute)
	foreign, _ := utils.GenerateAccessToken(agent, "other-secret", time.Hour)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + good, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + good, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen models.Identity
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Auth(secret)(echoIdentity(t, &seen)).ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Fatalf("Expected %d, got %d", tt.code, rec.Code)
			}
			if tt.code == http.StatusNoContent && seen != agent {
				t.Errorf("Expected identity %+v, got %+v", agent, seen)
			}
		})
	}
}

func TestRequireStaff(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for role, want := range map[models.Role]int{
		models.RoleAdmin:         http.StatusNoContent,
		models.RoleDispatcher:    http.StatusNoContent,
		models.RoleDeliveryAgent: http.StatusNoContent,
		models.RoleUser:          http.StatusForbidden,
	} {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), models.Identity{SubjectID: "x", Role: role}))
		rec := httptest.NewRecorder()
		RequireStaff(ok).ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", role, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	RequireStaff(ok).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("No identity: expected 403, got %d", rec.Code)
	}
}
