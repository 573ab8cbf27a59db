// Package client talks to a running sidra-server over its REST API. The
// terminal wizard drives intake sessions through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sidra/sidra/internal/domain/reference"
	"github.com/sidra/sidra/internal/domain/users"
	"github.com/sidra/sidra/internal/intake/wizard"
)

// APIError is a non-2xx answer from the server. View is set when the
// server returned the session alongside the error.
type APIError struct {
	Status  int
	Message string
	Fields  []wizard.FieldError
	View    *wizard.View
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

type Client struct {
	base  string
	http  *http.Client
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the bearer token in use, if any.
func (c *Client) Token() string { return c.token }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError understands both the plain {"message"} body and the wizard's
// error body that carries the session view. A bare view (an invalid submit)
// is recognised by its session id.
func decodeError(status int, raw []byte) error {
	ae := &APIError{Status: status, Message: http.StatusText(status)}
	var body struct {
		Message string              `json:"message"`
		Fields  []wizard.FieldError `json:"fields"`
		View    *wizard.View        `json:"view"`
		ID      string              `json:"id"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ae
	}
	if body.Message != "" {
		ae.Message = body.Message
	}
	ae.Fields = body.Fields
	ae.View = body.View
	if ae.View == nil && body.ID != "" {
		var v wizard.View
		if json.Unmarshal(raw, &v) == nil {
			ae.View = &v
			ae.Fields = v.Errors
		}
	}
	return ae
}

// Login starts the two-step sign in and returns the OTP challenge.
func (c *Client) Login(ctx context.Context, email, password string) (*users.Challenge, error) {
	var ch users.Challenge
	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, &ch)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// VerifyOTP completes sign in and keeps the issued token for later calls.
func (c *Client) VerifyOTP(ctx context.Context, challengeID uuid.UUID, code string) (*users.User, error) {
	var resp struct {
		AccessToken string      `json:"accessToken"`
		User        *users.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/otp",
		map[string]any{"challengeId": challengeID, "code": code}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.AccessToken
	return resp.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Reference loads one reference list, optionally narrowed to a parent.
func (c *Client) Reference(ctx context.Context, kind string, parent *int) ([]reference.Item, error) {
	path := "/api/v1/drugs/" + url.PathEscape(kind)
	if parent != nil {
		path += "?parent=" + strconv.Itoa(*parent)
	}
	var env reference.Envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Body, nil
}

func sessionPath(id string, parts ...string) string {
	p := "/api/v1/intake/sessions/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + url.PathEscape(s)
	}
	return p
}

func (c *Client) view(ctx context.Context, method, path string, body any) (*wizard.View, error) {
	var v wizard.View
	if err := c.do(ctx, method, path, body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// OpenSession starts a wizard session. recordID is required in edit mode.
func (c *Client) OpenSession(ctx context.Context, mode wizard.Mode, recordID *uuid.UUID) (*wizard.View, error) {
	return c.view(ctx, http.MethodPost, "/api/v1/intake/sessions",
		map[string]any{"mode": mode, "recordId": recordID})
}

func (c *Client) Session(ctx context.Context, id string) (*wizard.View, error) {
	return c.view(ctx, http.MethodGet, sessionPath(id), nil)
}

// UpdateSection merges values into one section of the session.
func (c *Client) UpdateSection(ctx context.Context, id, section string, values map[string]any) (*wizard.View, error) {
	return c.view(ctx, http.MethodPatch, sessionPath(id, "sections", section), values)
}

// SelectOption answers one option of a multi-option group.
func (c *Client) SelectOption(ctx context.Context, id, section, field string, option int, selected bool) (*wizard.View, error) {
	path := sessionPath(id, "sections", section, "groups", field, "options", strconv.Itoa(option))
	return c.view(ctx, http.MethodPut, path, map[string]bool{"selected": selected})
}

func (c *Client) GoTo(ctx context.Context, id string, step int) (*wizard.View, error) {
	return c.view(ctx, http.MethodPost, sessionPath(id, "goto"), map[string]int{"step": step})
}

func (c *Client) Next(ctx context.Context, id string) (*wizard.View, error) {
	return c.view(ctx, http.MethodPost, sessionPath(id, "next"), nil)
}

func (c *Client) Prev(ctx context.Context, id string) (*wizard.View, error) {
	return c.view(ctx, http.MethodPost, sessionPath(id, "prev"), nil)
}

// Retry re-fetches the reference lists that failed for the current section.
func (c *Client) Retry(ctx context.Context, id string) (*wizard.View, error) {
	return c.view(ctx, http.MethodPost, sessionPath(id, "retry"), nil)
}

// Submit dispatches the record. A 422 APIError carries the session view
// with the failing fields.
func (c *Client) Submit(ctx context.Context, id string) (*wizard.View, error) {
	return c.view(ctx, http.MethodPost, sessionPath(id, "submit"), nil)
}

func (c *Client) Discard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}
