package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpledger/internal/crypto"
)

type callerKey struct{}

// Caller returns the verified signer address of the request, if any.
func Caller(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(callerKey{}).(string)
	return addr, ok && addr != ""
}

// WithCaller attaches a verified caller to ctx.
func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerKey{}, address)
}

// IdentityConfig configures signed caller identity.
type IdentityConfig struct {
	// Required rejects mutating requests that carry no signature.
	Required bool
	MaxAge   time.Duration
	Now      func() time.Time
}

// Identity verifies the X-Perp-* signature headers and stores the recovered
// address for handlers. A bad signature is always rejected; a missing one
// only when Required is set and the method is not GET or HEAD.
func Identity(cfg IdentityConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signed := r.Header.Get(crypto.HeaderSignature) != ""
			if !signed {
				if cfg.Required && mutating(r.Method) {
					writeJSONError(w, http.StatusUnauthorized, "signed request required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.VerifyRequest(r.Method, r.URL.Path, body,
				r.Header.Get(crypto.HeaderAddress),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				now(), cfg.MaxAge)
			if err != nil {
				logger.WarnContext(r.Context(), "middleware: signature rejected",
					slog.String("request_id", RequestID(r.Context())),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid request signature")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func mutating(method string) bool {
	return method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions
}
