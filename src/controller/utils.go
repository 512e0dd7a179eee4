package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
)

type exceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Capture records a system exception, logs it locally, and optionally
// persists it in the database.
func Capture(
	ctx context.Context,
	repo exceptionStore,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now().UTC(),
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
		"context": ctxJSON,
	}).WithError(err).Error("System exception captured")

	// Persist in database. The caller's context may already be done.
	if repo != nil {
		persistCtx := ctx
		if ctx == nil || ctx.Err() != nil {
			persistCtx = context.Background()
		}
		if e := repo.Create(persistCtx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
