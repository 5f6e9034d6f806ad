package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requireRoleWith(t *testing.T, granted []string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(context.Background(), "u1", granted))
	c := e.NewContext(req, httptest.NewRecorder())
	return RequireRole(required...)(okHandler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := requireRoleWith(t, []string{RoleBilling}, RoleAdmin, RoleBilling); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_AdminAlwaysAllowed(t *testing.T) {
	if err := requireRoleWith(t, []string{RoleAdmin}, RoleBilling); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	err := requireRoleWith(t, []string{RolePatient}, RoleBilling)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	err := requireRoleWith(t, nil, RolePatient)
	expectStatus(t, err, http.StatusForbidden)
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		granted  []string
		required []string
		want     bool
	}{
		{[]string{RoleDoctor}, []string{RolePatient, RoleDoctor}, true},
		{[]string{RoleHospital}, []string{RoleBilling}, false},
		{[]string{RoleAdmin}, []string{RoleBilling}, true},
		{nil, []string{RolePatient}, false},
	}
	for _, tt := range tests {
		if got := HasAnyRole(tt.granted, tt.required...); got != tt.want {
			t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}
