package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/pos-billing/internal/common"
)

// DefaultMaxBody bounds JSON payloads; item and bill requests are tiny.
const DefaultMaxBody int64 = 64 << 10

// Headers attaches standard security headers to every response.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// BodyLimit rejects payloads larger than Max with 413.
type BodyLimit struct {
	Max int64
}

// Middleware enforces the limit up front when Content-Length is known and wraps the body
// otherwise so oversize streams fail while decoding.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	max := b.Max
	if max <= 0 {
		max = DefaultMaxBody
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	})
}

// IsTooLarge reports whether err came from a body cut off by BodyLimit.
func IsTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
