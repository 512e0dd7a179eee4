package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"signalbridge/src/controller"
	"signalbridge/src/events"
	"signalbridge/src/handler"
	"signalbridge/src/model"
	"signalbridge/src/repository"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

type keyResolver interface {
	Resolve(ctx context.Context, secret string) (*model.WebhookKey, error)
}

type signalReader interface {
	Search(ctx context.Context, options repository.SignalSearchOptions) ([]model.Signal, error)
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
}

// Routes groups what the HTTP surface needs.
type Routes struct {
	Ingestor *controller.Ingestor
	Keys     keyResolver
	Signals  signalReader
	Hub      *events.Hub
}

// NewRouter builds the public router.
func NewRouter(routes Routes, config *Config) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/healthcheck error")
		}
	})

	r.Route("/webhook/{key}", func(r chi.Router) {
		r.Post("/", handler.WebhookHandler(routes.Ingestor, config.WebhookMaxBodyBytes))

		r.Group(func(r chi.Router) {
			r.Use(handler.KeyOwnerMiddleware(routes.Keys))
			r.Get("/signals", handler.SearchSignalsHandler(routes.Signals))
			r.Get("/signals/{id}", handler.GetSignalHandler(routes.Signals))
		})
	})

	r.Get("/events", handler.EventsHandler(routes.Hub, config.EventsToken))

	return r
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, routes Routes, config *Config) error {
	addr := ":" + config.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(routes, config),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
