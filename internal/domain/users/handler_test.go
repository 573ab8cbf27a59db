package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_LoginAndOTP(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Create(context.Background(), validInput())
	h, e := NewHandler(svc), echo.New()

	c, rec := postJSON(e, `{"email":"agent@sante.tn","password":"s3cret-pass"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var ch struct {
		ChallengeID string `json:"challengeId"`
	}
	json.Unmarshal(rec.Body.Bytes(), &ch)

	c, rec = postJSON(e, `{"challengeId":"`+ch.ChallengeID+`","code":"000000"}`)
	if err := h.VerifyOTP(c); err != nil {
		t.Fatalf("otp: %v", err)
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
		User        User   `json:"user"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.AccessToken == "" || resp.TokenType != "Bearer" || resp.User.Email != "agent@sante.tn" {
		t.Errorf("unexpected login response %+v", resp)
	}
}

func TestHandler_Login_InvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)
	h, e := NewHandler(svc), echo.New()

	c, _ := postJSON(e, `{"email":"agent@sante.tn","password":"nope"}`)
	err := h.Login(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_Create_GeneratedPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	h, e := NewHandler(svc), echo.New()

	c, rec := postJSON(e, `{"email":"new@sante.tn","firstName":"Sami","lastName":"Trabelsi","structure":"CSB Sfax"}`)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"generatedPassword"`) {
		t.Errorf("expected generated password in response: %s", body)
	}
	if strings.Contains(body, "passwordHash") || strings.Contains(body, "$2a$") {
		t.Error("password hash must not be serialized")
	}
}

func TestHandler_Create_Conflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Create(context.Background(), validInput())
	h, e := NewHandler(svc), echo.New()

	c, _ := postJSON(e, `{"email":"agent@sante.tn","firstName":"A","lastName":"B","structure":"S"}`)
	err := h.Create(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Logout_NoToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	h, e := NewHandler(svc), echo.New()

	c, _ := postJSON(e, ``)
	err := h.Logout(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
