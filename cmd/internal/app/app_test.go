package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatekeep/cmd/identity"

	"github.com/spf13/viper"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestApp(t *testing.T, set map[string]string) *App {
	t.Helper()

	v := viper.New()
	v.Set("GATEKEEP_ARGON2_MEMORY_KIB", "8192")
	v.Set("GATEKEEP_ARGON2_ITERATIONS", "1")
	v.Set("GATEKEEP_ARGON2_PARALLELISM", "1")
	v.Set("GATEKEEP_AUTH_TRUSTED_PROXIES", "192.0.2.1") // httptest peer
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	log := discardLogger()
	stores, err := OpenStores(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })

	if stores.Backend != BackendMemory {
		t.Fatalf("backend=%s want memory", stores.Backend)
	}
	if _, err := stores.Users.CreateUser(context.Background(), identity.CreateUserInput{
		Username: "alice",
		Password: "correct-horse-battery",
		Now:      time.Now(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	a, err := New(cfg, log, stores)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func serve(h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestApp_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, nil).Handler()

	if rr := serve(h, http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	rr := serve(h, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz=%d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing: %q", got)
	}
}

func TestApp_ReadinessRequiresStore(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, map[string]string{"GATEKEEP_READINESS_REQUIRE_STORE": "true"}).Handler()

	if rr := serve(h, http.MethodGet, "/readyz", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want 503", rr.Code)
	}
}

func TestApp_LoginRefreshAndMetrics(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, nil).Handler()
	fwd := map[string]string{"Forwarded": "for=203.0.113.5", "Content-Type": "application/json"}

	rr := serve(h, http.MethodPost, "/api/auth/login",
		`{"username":"alice","password":"correct-horse-battery"}`, fwd)
	if rr.Code != http.StatusOK {
		t.Fatalf("login=%d body=%s", rr.Code, rr.Body.String())
	}
	var sessionTok, refreshTok string
	for _, c := range rr.Result().Cookies() {
		switch c.Name {
		case "X-Session-Token":
			sessionTok = c.Value
		case "X-Refresh-Token":
			refreshTok = c.Value
		}
	}
	if sessionTok == "" || refreshTok == "" {
		t.Fatalf("missing token cookies")
	}

	hdr := map[string]string{
		"Forwarded":     "for=203.0.113.5",
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + sessionTok,
	}
	body := `{"refresh_token":"` + refreshTok + `"}`
	if rr := serve(h, http.MethodPost, "/api/auth/refresh", body, hdr); rr.Code != http.StatusOK {
		t.Fatalf("refresh=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodPost, "/api/auth/refresh", body, hdr)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh=%d want 401", rr.Code)
	}
	var st struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Message == "" {
		t.Fatalf("expected an error message")
	}

	rr = serve(h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics=%d", rr.Code)
	}
	text := rr.Body.String()
	for _, want := range []string{
		`gatekeep_auth_login_total{result="success"} 1`,
		`gatekeep_auth_refresh_total{result="success"} 1`,
		`gatekeep_http_request_duration_seconds_count{method="POST",route="/api/auth/login",status_class="2xx"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestNew_RequiresStores(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(viper.New())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := New(cfg, discardLogger(), nil); err == nil {
		t.Fatalf("expected error for nil stores")
	}
}
