package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"signalbridge/src/controller"
	"signalbridge/src/database"
	"signalbridge/src/mapper"
	"signalbridge/src/model"
	"signalbridge/src/registry"
	"signalbridge/src/repository"
	"signalbridge/src/resolver"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubIngester struct {
	result *controller.IngestResult
	err    error

	secret      string
	contentType string
	body        string
	token       string
}

func (s *stubIngester) Ingest(_ context.Context, secret, contentType string, body []byte, idempotencyKey string) (*controller.IngestResult, error) {
	s.secret = secret
	s.contentType = contentType
	s.body = string(body)
	s.token = idempotencyKey
	return s.result, s.err
}

func webhookRouter(ingestor signalIngester, maxBody int64) http.Handler {
	r := chi.NewRouter()
	r.Post("/webhook/{key}", WebhookHandler(ingestor, maxBody))
	return r
}

func postWebhook(t *testing.T, h http.Handler, key, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+key, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestWebhookHandlerAccepts(t *testing.T) {
	stub := &stubIngester{result: &controller.IngestResult{Signal: &model.Signal{ID: 12, Status: model.SignalStatusPending}}}
	h := webhookRouter(stub, 1024)

	rr := postWebhook(t, h, "secret-1", "text/plain", "EURUSD buy 0.1", map[string]string{IdempotencyHeader: "alert-1"})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true,"signal_id":12,"status":"pending"}`, rr.Body.String())
	assert.Equal(t, "secret-1", stub.secret)
	assert.Equal(t, "text/plain", stub.contentType)
	assert.Equal(t, "EURUSD buy 0.1", stub.body)
	assert.Equal(t, "alert-1", stub.token)
}

func TestWebhookHandlerDuplicate(t *testing.T) {
	stub := &stubIngester{result: &controller.IngestResult{Signal: &model.Signal{ID: 12, Status: model.SignalStatusExecuted}, Duplicate: true}}

	rr := postWebhook(t, webhookRouter(stub, 1024), "k", "text/plain", "EURUSD buy", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true,"signal_id":12,"status":"executed","duplicate":true}`, rr.Body.String())
}

func TestWebhookHandlerErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown key", registry.ErrKeyNotFound, http.StatusNotFound, "webhook_key_not_found"},
		{"disabled key", registry.ErrKeyDisabled, http.StatusForbidden, "webhook_key_disabled"},
		{"validation", &mapper.ValidationError{Code: mapper.CodeUnknownAction}, http.StatusBadRequest, mapper.CodeUnknownAction},
		{"storage", errors.New("store signal: disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postWebhook(t, webhookRouter(&stubIngester{err: tc.err}, 1024), "k", "text/plain", "EURUSD buy", nil)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeBody(t, rr)["error"])
		})
	}
}

func TestWebhookHandlerBodyTooLarge(t *testing.T) {
	stub := &stubIngester{}
	rr := postWebhook(t, webhookRouter(stub, 16), "k", "text/plain", strings.Repeat("x", 17), nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, stub.secret)
}

// newLedgerRouter wires the real ingestion path over a sqlite ledger.
func newLedgerRouter(t *testing.T) (http.Handler, *gorm.DB, *registry.Registry) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "webhook.db") + "?_busy_timeout=5000"
	db, err := database.Open(database.DriverSQLite, dsn, int(gormlogger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	accounts := resolver.NewAccountResolver(repository.NewBrokerAccountRepository().WithDB(db))
	signals := repository.NewSignalRepository(accounts).WithDB(db)
	keys := registry.NewRegistry(repository.NewWebhookKeyRepository().WithDB(db))
	ingestor := controller.NewIngestor(keys, accounts, signals, nil, nil)

	r := chi.NewRouter()
	r.Post("/webhook/{key}", WebhookHandler(ingestor, 64*1024))
	return r, db, keys
}

func countSignals(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.Signal{}).Count(&count).Error)
	return count
}

func TestWebhookDisabledKeyStoresNothing(t *testing.T) {
	h, db, keys := newLedgerRouter(t)
	ctx := context.Background()

	key, err := keys.Create(ctx, 1, "")
	require.NoError(t, err)
	require.NoError(t, keys.SetActive(ctx, key.ID, false))

	rr := postWebhook(t, h, key.Secret, "text/plain", "EURUSD buy 0.1", nil)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "webhook_key_disabled", decodeBody(t, rr)["error"])
	assert.Zero(t, countSignals(t, db))
}

func TestWebhookHoldActionStoresNothing(t *testing.T) {
	h, db, keys := newLedgerRouter(t)

	key, err := keys.Create(context.Background(), 1, "")
	require.NoError(t, err)

	rr := postWebhook(t, h, key.Secret, "application/json", `{"symbol":"EURUSD","action":"hold"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, mapper.CodeUnknownAction, decodeBody(t, rr)["error"])
	assert.Zero(t, countSignals(t, db))
}

func TestWebhookUnknownKey(t *testing.T) {
	h, db, _ := newLedgerRouter(t)

	rr := postWebhook(t, h, "no-such-key", "text/plain", "EURUSD buy", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Zero(t, countSignals(t, db))
}

func TestWebhookIdempotencyHeader(t *testing.T) {
	h, db, keys := newLedgerRouter(t)

	key, err := keys.Create(context.Background(), 1, "")
	require.NoError(t, err)
	headers := map[string]string{IdempotencyHeader: "tv-alert-77"}

	first := postWebhook(t, h, key.Secret, "text/plain", "EURUSD buy 0.1", headers)
	second := postWebhook(t, h, key.Secret, "text/plain", "EURUSD buy 0.1", headers)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	firstBody, secondBody := decodeBody(t, first), decodeBody(t, second)
	assert.Equal(t, firstBody["signal_id"], secondBody["signal_id"])
	assert.Nil(t, firstBody["duplicate"])
	assert.Equal(t, true, secondBody["duplicate"])
	assert.Equal(t, int64(1), countSignals(t, db))
}
