package api

import "net/http"

// throttle enforces the submission rate limit. With no limiter configured
// requests pass straight through.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
