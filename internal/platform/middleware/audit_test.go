package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sidra/sidra/internal/platform/auth"
)

func runAudit(t *testing.T, method, path string, status int) ([]AuditEntry, string) {
	t.Helper()
	var buf bytes.Buffer
	var entries []AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		entries = append(entries, e)
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.PermManageRequests})
	c := e.NewContext(req.WithContext(ctx), httptest.NewRecorder())
	c.Set("request_id", "req-9")

	h := Audit(zerolog.New(&buf), rec)(func(c echo.Context) error {
		return c.NoContent(status)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return entries, buf.String()
}

func TestAudit_RecordsFormAccess(t *testing.T) {
	id := "0b6e7e52-44f4-4c8e-9a39-3f8d1c7a0d11"
	entries, out := runAudit(t, http.MethodGet, "/api/v1/forms/"+id, http.StatusOK)

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.UserID != "user-1" || got.RecordID != id || got.Resource != "forms" || got.Action != "read" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.RequestID != "req-9" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected request metadata: %+v", got)
	}
	if !strings.Contains(out, `"message":"record_access"`) {
		t.Errorf("expected record_access log, got %s", out)
	}
}

func TestAudit_Actions(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{http.MethodGet, "read"},
		{http.MethodPost, "create"},
		{http.MethodPatch, "update"},
		{http.MethodPut, "update"},
		{http.MethodDelete, "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			entries, _ := runAudit(t, tt.method, "/api/v1/intake/sessions", http.StatusOK)
			if len(entries) != 1 || entries[0].Action != tt.want {
				t.Errorf("got %+v, want action %s", entries, tt.want)
			}
			if entries[0].Resource != "intake" {
				t.Errorf("resource = %s", entries[0].Resource)
			}
		})
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	for _, path := range []string{"/health", "/api/v1/drugs/governorates", "/api/v1/formsx", "/api/auth/login"} {
		entries, out := runAudit(t, http.MethodGet, path, http.StatusOK)
		if len(entries) != 0 || out != "" {
			t.Errorf("%s: expected no audit, got %v %s", path, entries, out)
		}
	}
}

func TestRecordIDOf(t *testing.T) {
	if got := recordIDOf("/api/v1/forms/stats"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	id := "0b6e7e52-44f4-4c8e-9a39-3f8d1c7a0d11"
	if got := recordIDOf("/api/v1/intake/sessions/" + id + "/next"); got != id {
		t.Errorf("got %q", got)
	}
}
