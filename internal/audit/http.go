// Package audit records operator mutations on the ops API. Reads are not
// audited; every POST or DELETE leaves one log line with the caller identity
// and source address.
package audit

import (
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/auth"
)

// Mutations wraps a handler and logs every mutating request after it is
// served, including the response status.
func Mutations(logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		subject := "anonymous"
		if id, ok := auth.IdentityFromContext(r.Context()); ok {
			subject = id.Subject
		}
		logger.Printf("ops mutation: method=%s path=%s subject=%s ip=%s status=%d",
			r.Method, r.URL.Path, subject, ClientIP(r), recorder.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ClientIP extracts the client address from proxy headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
