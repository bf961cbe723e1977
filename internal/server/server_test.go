package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auroraid/apiserver/config"
)

func memoryConfig() config.Config {
	return config.Config{
		ServerPort:  0,
		CORSOrigins: []string{"https://app.example.com"},
		Store:       config.StoreConfig{Backend: config.StoreBackendMemory, Timeout: time.Second},
		SMTP:        config.SMTPConfig{Host: "127.0.0.1", Port: 1, From: "noreply@example.com", Timeout: 100 * time.Millisecond},
		Mail: config.MailConfig{
			Delivery:     config.MailDeliverySMTP,
			QueueBackend: config.QueueBackendRabbitMQ,
			Locale:       "en",
			ProductName:  "AuroraID",
		},
		Templates: config.TemplatesConfig{Source: config.TemplateSourceEmbedded},
		Auth: config.AuthConfig{
			CodeLength:     6,
			CodeTTL:        5 * time.Minute,
			PasswordLength: 12,
			BcryptCost:     4,
		},
	}
}

func TestNewWiresMemoryBackend(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.Equal(t, ":5002", srv.httpServer.Addr)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMountsAuthRoutes(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	body := strings.NewReader(`{"email":"not-an-email"}`)
	req := httptest.NewRequest(http.MethodPost, "/send_verification_code", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "invalid_email", resp["error_code"])

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWireRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "etcd"
	_, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unknown store backend")

	cfg = memoryConfig()
	cfg.Mail.Delivery = "pigeon"
	_, err = Wire(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unknown mail delivery")
}

func TestTemplateSourceRequiresBucketConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Templates.Source = config.TemplateSourceMinio
	_, err := NewTemplateSource(context.Background(), cfg)
	require.Error(t, err)
}

func TestDependenciesCloseRunsInReverse(t *testing.T) {
	var order []string
	deps := &Dependencies{closers: []func() error{
		func() error { order = append(order, "store"); return nil },
		func() error { order = append(order, "broker"); return nil },
	}}
	require.NoError(t, deps.Close())
	assert.Equal(t, []string{"broker", "store"}, order)
	require.NoError(t, deps.Close())
}

func TestRouterAnswersCORSPreflight(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/login", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
