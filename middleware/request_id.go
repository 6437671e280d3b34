package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/timgluz/rivretrieve/response"
)

type contextKey struct{}

// RequestID tags every request with an id, taken from the X-Request-ID
// header when it is a valid UUID, and logs the request.
func RequestID(h httprouter.Handle, logger *slog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := uuid.Parse(r.Header.Get(response.RequestIDHeader))
		if err != nil {
			id = uuid.New()
		}

		requestID := id.String()
		w.Header().Set(response.RequestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), contextKey{}, requestID))

		started := time.Now()
		h(w, r, ps)

		logger.Info("Handled request",
			"requestID", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(started),
		)
	}
}

// RequestIDFromContext returns the id RequestID stored in ctx.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
