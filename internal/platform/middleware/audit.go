package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sidra/sidra/internal/platform/auth"
)

// AuditEntry describes one access to intake data.
type AuditEntry struct {
	UserID     string
	Roles      []string
	Resource   string
	RecordID   string
	Action     string
	IPAddress  string
	Path       string
	Method     string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditedPrefixes are the route trees that expose patient intake data.
var auditedPrefixes = []string{"/api/v1/forms", "/api/v1/intake"}

// Audit logs a "record_access" line for every request touching intake
// records, after the handler has run. An optional recorder receives the
// same entry.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				Roles:      auth.RolesFromContext(ctx),
				Resource:   resourceOf(path),
				RecordID:   recordIDOf(path),
				Action:     actionOf(req.Method),
				IPAddress:  c.RealIP(),
				Path:       path,
				Method:     req.Method,
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("roles", entry.Roles).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceOf returns the first path segment after /api/v1/.
func resourceOf(path string) string {
	seg := strings.SplitN(strings.TrimPrefix(path, "/api/v1/"), "/", 2)
	if seg[0] == "" {
		return "unknown"
	}
	return seg[0]
}

// recordIDOf returns the first UUID segment of the path, if any.
func recordIDOf(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if _, err := uuid.Parse(seg); err == nil {
			return seg
		}
	}
	return ""
}
