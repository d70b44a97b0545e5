package identity_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/docchain/internal/identity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenIssuer(t *testing.T, ttl time.Duration) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer([]byte(testSecret), "docchain-test", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_weakSecret(t *testing.T) {
	_, err := identity.NewTokenIssuer([]byte("short"), "docchain-test", time.Hour)
	if !errors.Is(err, identity.ErrWeakSecret) {
		t.Errorf("expected ErrWeakSecret, got %v", err)
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)

	token, err := ti.Issue("sensor-gateway", []string{identity.ScopeWrite})
	if err != nil {
		t.Fatal(err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "sensor-gateway" {
		t.Errorf("Subject: got %q", claims.Subject)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != identity.ScopeWrite {
		t.Errorf("Scopes: got %v", claims.Scopes)
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Nanosecond)
	token, err := ti.Issue("sensor-gateway", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestTokenIssuer_Verify_wrongSecretOrIssuer(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	token, _ := ti.Issue("sensor-gateway", nil)

	other, _ := identity.NewTokenIssuer([]byte(strings.Repeat("x", 32)), "docchain-test", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for wrong secret, got nil")
	}

	elsewhere, _ := identity.NewTokenIssuer([]byte(testSecret), "someone-else", time.Hour)
	if _, err := elsewhere.Verify(token); err == nil {
		t.Error("expected error for wrong issuer, got nil")
	}
}

func TestHasScope(t *testing.T) {
	ti := newTestTokenIssuer(t, time.Hour)
	token, _ := ti.Issue("auditor", []string{identity.ScopeRead})
	claims, _ := ti.Verify(token)

	if !identity.HasScope(claims, identity.ScopeRead) {
		t.Error("HasScope(read) should be true")
	}
	if identity.HasScope(claims, identity.ScopeWrite) {
		t.Error("HasScope(write) should be false")
	}
	if identity.HasScope(nil, identity.ScopeRead) {
		t.Error("HasScope(nil, ...) should be false")
	}

	admin := &identity.AccessClaims{Scopes: []string{identity.ScopeAdmin}}
	if !identity.HasScope(admin, identity.ScopeWrite) {
		t.Error("admin scope should imply write")
	}
}

func TestRequireScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := newTestTokenIssuer(t, time.Hour)
	reader, _ := ti.Issue("auditor", []string{identity.ScopeRead})
	writer, _ := ti.Issue("sensor-gateway", []string{identity.ScopeWrite})

	r := gin.New()
	r.POST("/records", identity.RequireScope(ti, identity.ScopeWrite), func(c *gin.Context) {
		c.String(http.StatusOK, identity.Subject(c))
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"missing scope", "Bearer " + reader, http.StatusForbidden},
		{"granted", "Bearer " + writer, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/records", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Errorf("status: got %d, want %d", w.Code, tc.status)
			}
			if tc.status == http.StatusOK && w.Body.String() != "sensor-gateway" {
				t.Errorf("subject: got %q", w.Body.String())
			}
		})
	}
}

func TestRequireScope_disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/records", identity.RequireScope(nil, identity.ScopeRead), func(c *gin.Context) {
		c.String(http.StatusOK, identity.Subject(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	if w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}
