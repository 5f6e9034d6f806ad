package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10M", 10 << 20},
		{"256K", 256 << 10},
		{"512kb", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5", 1 << 20},
	}

	for _, tt := range tests {
		if got := ParseLimit(tt.input); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/x/cancel",
		strings.NewReader(`{"initiated_by":"patient","reason":"sick"}`))
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := BodyLimit("1M", nil)(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if len(b) == 0 {
			t.Error("expected non-empty body")
		}
		called = true
		return nil
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_RejectsOversizedBody_ContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := BodyLimit("1K", nil)(func(c echo.Context) error {
		t.Error("handler should not be called when body exceeds limit")
		return nil
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("expected JSON error body, got %s", rec.Body.String())
	}
}

func TestBodyLimit_PathOverride(t *testing.T) {
	e := echo.New()
	body := bytes.Repeat([]byte("x"), 2048)

	limits := map[string]string{"/webhooks/payments": "1K"}
	mw := BodyLimit("1M", limits)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body)), rec)
	_ = mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected webhook override to reject, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", bytes.NewReader(body)), rec)
	_ = mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	if rec.Code != http.StatusOK {
		t.Errorf("expected default limit to allow, got %d", rec.Code)
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cancellations", nil)
	req.Body = nil
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	_ = BodyLimit("1K", nil)(func(echo.Context) error { called = true; return nil })(c)
	if !called {
		t.Error("expected handler to be called for nil body")
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	_ = BodyLimit("1K", nil)(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		if err == nil {
			t.Error("expected read error when body exceeds limit")
		}
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413 HTTPError, got %v", err)
		}
		return nil
	})(c)
}
