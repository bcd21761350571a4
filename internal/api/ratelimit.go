package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// rateLimit enforces the submission quota. Recognized bearer tokens get
// the higher authenticated quota; an unrecognized token is rejected
// outright rather than silently falling back to the anonymous quota.
// The limiter fails open when the counter backend is unreachable.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Limits.RateLimitEnabled {
			next.ServeHTTP(w, r)
			return
		}

		limit := s.cfg.Limits.RateLimitMax
		key := "ip:" + clientKey(r)
		if token, ok := bearerToken(r); ok {
			if !s.tokenRecognized(token) {
				writeError(w, http.StatusUnauthorized, "Unrecognized API token.")
				return
			}
			limit = s.cfg.Limits.RateLimitMaxAuth
			key = "token:" + token
		}

		st, err := s.queue.IncrRate(r.Context(), key, s.cfg.Limits.RateLimitWindow)
		if err != nil {
			s.log.Warn().Err(err).Msg("Rate limit counter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		remaining := limit - int(st.Count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if st.Count > int64(limit) {
			retry := int64(math.Ceil(st.Remaining.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
				Error:      http.StatusText(http.StatusTooManyRequests),
				Message:    fmt.Sprintf("Too many builds submitted. Try again in %s.", retryHint(retry)),
				RetryAfter: retry,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey picks the identity a quota counts against: the first
// X-Forwarded-For hop when present, otherwise the peer address.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the Authorization bearer token, if any.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) tokenRecognized(token string) bool {
	for _, t := range s.cfg.Limits.APITokens {
		if t == token {
			return true
		}
	}
	return false
}

// retryHint renders a reset delay for the 429 message.
func retryHint(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	m := (seconds + 59) / 60
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
