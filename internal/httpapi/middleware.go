package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/pozitronik/micdrop-go/internal/logring"
)

// withCORS allows all origins, per loopback-only trust: any browser origin
// on this machine is a legitimate caller.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "accept, authorization, content-type, origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

// withRequestLog logs method, path, client address, status, and duration for
// every request except the long-poll endpoint, which would otherwise flood
// the log with one line per connection.
func withRequestLog(logs *logring.Ring, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bridge/poll" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusCapturingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		line := r.Method + " " + r.URL.Path + " " + r.RemoteAddr
		log.Printf("httpapi: %s -> %d (%s)", line, status, time.Since(start))
		if logs != nil {
			logs.Push(logring.LevelRequest, line)
		}
	})
}
