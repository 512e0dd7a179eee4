package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalbridge/src/auth"
	"signalbridge/src/model"
	"signalbridge/src/registry"
	"signalbridge/src/repository"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

const maxPageSize = 200

type keyResolver interface {
	Resolve(ctx context.Context, secret string) (*model.WebhookKey, error)
}

type signalSearcher interface {
	Search(ctx context.Context, options repository.SignalSearchOptions) ([]model.Signal, error)
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
}

// KeyOwnerMiddleware resolves the {key} path parameter and stores the key in the
// request context. A disabled key still identifies its owner for read access.
func KeyOwnerMiddleware(keys keyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keys.Resolve(r.Context(), chi.URLParam(r, "key"))
			switch {
			case err == nil, errors.Is(err, registry.ErrKeyDisabled) && key != nil:
				next.ServeHTTP(w, r.WithContext(auth.WithWebhookKey(r.Context(), key)))
			case errors.Is(err, registry.ErrKeyNotFound):
				writeError(w, http.StatusNotFound, "webhook_key_not_found")
			default:
				logger.WithError(err).Error("failed to resolve webhook key")
				writeError(w, http.StatusInternalServerError, "internal_error")
			}
		})
	}
}

// SearchSignalsHandler lists the key owner's signals, newest first.
// Supports pagination and filters (status, symbol, createdFrom, createdTo).
func SearchSignalsHandler(repo signalSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := auth.GetWebhookKeyFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		query := r.URL.Query()

		var status *string
		if statusParam := query.Get("status"); statusParam != "" {
			switch statusParam {
			case model.SignalStatusPending, model.SignalStatusProcessing, model.SignalStatusExecuted, model.SignalStatusFailed:
				status = &statusParam
			default:
				writeError(w, http.StatusBadRequest, "invalid_status")
				return
			}
		}

		var symbol *string
		if symbolParam := strings.ToUpper(strings.TrimSpace(query.Get("symbol"))); symbolParam != "" {
			symbol = &symbolParam
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := query.Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_created_from")
				return
			}
			parsed = parsed.UTC()
			createdFrom = &parsed
		}
		if createdToParam := query.Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_created_to")
				return
			}
			parsed = parsed.UTC()
			createdTo = &parsed
		}

		page := 1
		if pageParam := query.Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_page")
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := query.Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 || parsedSize > maxPageSize {
				writeError(w, http.StatusBadRequest, "invalid_page_size")
				return
			}
			pageSize = parsedSize
		}

		signals, err := repo.Search(r.Context(), repository.SignalSearchOptions{
			UserID:        key.UserID,
			Status:        status,
			Symbol:        symbol,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search signals")
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if signals == nil {
			signals = []model.Signal{}
		}

		writeJSON(w, http.StatusOK, signals)
	}
}

// GetSignalHandler returns one signal of the key owner. Signals of other users
// are reported as not found.
func GetSignalHandler(repo signalSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := auth.GetWebhookKeyFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			writeError(w, http.StatusBadRequest, "invalid_signal_id")
			return
		}

		signal, err := repo.FindByID(r.Context(), uint(id))
		if err != nil {
			logger.WithError(err).WithField("signal_id", id).Error("failed to load signal")
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if signal == nil || signal.UserID != key.UserID {
			writeError(w, http.StatusNotFound, "signal_not_found")
			return
		}

		writeJSON(w, http.StatusOK, signal)
	}
}
