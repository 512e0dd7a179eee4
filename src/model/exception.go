package model

import "time"

const (
	ExceptionLevelWarn  = "warn"
	ExceptionLevelError = "error"
	ExceptionLevelFatal = "fatal"
)

// Exception represents a system-level error that must be persisted
// for auditing, debugging, and monitoring purposes.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "dispatcher"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "signal_ledger"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "Finalize"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // warn | error | fatal

	// Extra context stored as JSON text
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
