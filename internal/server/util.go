package server

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/kibitz-hq/kibitz/internal/engine"
	"github.com/kibitz-hq/kibitz/internal/pool"
)

// sanitizeBase normalizes a mount prefix: always absolute, no trailing
// slash, empty when the input means root.
func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	bp = path.Clean("/" + bp)
	if bp == "/" {
		return ""
	}
	return bp
}

// statusFor maps evaluation errors onto HTTP status codes. Capacity
// problems are 429, lifecycle and crash problems 503, a stuck engine 504.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, pool.ErrNoEngines),
		errors.Is(err, pool.ErrShuttingDown),
		errors.Is(err, pool.ErrEngineCrashed),
		errors.Is(err, engine.ErrShuttingDown),
		errors.Is(err, engine.ErrProcessExited):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrEvalTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
