package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotRegistered means no device credentials are configured. Every
// remote path short-circuits on it and callers degrade to cache-only.
var ErrNotRegistered = errors.New("device not registered")

// ErrNotFound is a 404: the parent record does not exist server-side.
// It is never auto-healed locally; the caller must remediate.
var ErrNotFound = errors.New("record not found on server")

// ConflictError is a 409: the server holds a different version of the
// record. The body carries the authoritative version and payload.
type ConflictError struct {
	ServerVersion int64           `json:"server_version"`
	ServerPayload json.RawMessage `json:"server_payload"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: server has version %d", e.ServerVersion)
}

// StatusError is any other non-2xx response. Retryable: the dirty state
// stays put and the next sync cycle tries again.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Code)
}
