package response

import (
	"net/http"

	appCtx "github.com/fraruiz/pgmb/internal/pkg/context"
)

// RequestIDFromRequest prefers the id the middleware stored on the context
// and falls back to the inbound header.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := appCtx.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-Id")
}
