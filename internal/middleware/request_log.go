package middleware

import (
	"net/http"
	"time"

	"github.com/orgchat/internal/logger"
)

// RequestLog logs the duration of every HTTP request.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, time.Now())()
		next.ServeHTTP(w, r)
	})
}
