package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"signalbridge/src/controller"
	"signalbridge/src/mapper"
	"signalbridge/src/registry"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// IdempotencyHeader carries an optional caller token that collapses retries
// into one signal.
const IdempotencyHeader = "Idempotency-Key"

type signalIngester interface {
	Ingest(ctx context.Context, secret, contentType string, body []byte, idempotencyKey string) (*controller.IngestResult, error)
}

type webhookResponse struct {
	OK        bool   `json:"ok"`
	SignalID  uint   `json:"signal_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// WebhookHandler accepts alerts on POST /webhook/{key}. The body is stored as a
// pending signal; execution happens asynchronously.
func WebhookHandler(ingestor signalIngester, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := chi.URLParam(r, "key")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
				return
			}
			logger.WithError(err).Warn("failed to read webhook body")
			writeError(w, http.StatusBadRequest, "unreadable_body")
			return
		}

		result, err := ingestor.Ingest(r.Context(), secret, r.Header.Get("Content-Type"), body, r.Header.Get(IdempotencyHeader))
		if err != nil {
			var validation *mapper.ValidationError
			switch {
			case errors.Is(err, registry.ErrKeyNotFound):
				writeError(w, http.StatusNotFound, "webhook_key_not_found")
			case errors.Is(err, registry.ErrKeyDisabled):
				writeError(w, http.StatusForbidden, "webhook_key_disabled")
			case errors.As(err, &validation):
				writeError(w, http.StatusBadRequest, validation.Code)
			default:
				logger.WithError(err).Error("failed to ingest webhook")
				writeError(w, http.StatusInternalServerError, "internal_error")
			}
			return
		}

		writeJSON(w, http.StatusOK, webhookResponse{
			OK:        true,
			SignalID:  result.Signal.ID,
			Status:    result.Signal.Status,
			Duplicate: result.Duplicate,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
