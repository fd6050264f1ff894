package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/plateful/mealplanner-backend/pkg/logger"
)

const headerRequestID = "X-Request-Id"

// RequestID stamps every request with a correlation id. A caller-supplied
// id is honored only when it parses as a UUID; anything else is replaced
// so log queries never key on attacker-chosen strings.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}

			w.Header().Set(headerRequestID, requestID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, requestID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
