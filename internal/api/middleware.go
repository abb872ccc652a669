package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/bundle.evolution/internal/monitoring"
)

const (
	colorReset = "\033[0m"
	colorPath  = "\033[36m"
	colorOK    = "\033[1;32m"
	colorRedir = "\033[33m"
	colorFail  = "\033[1;31m"
)

// statusWriter records what the handler sent so the access log can report it.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func statusCodeColor(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 400:
		return colorFail + s + colorReset
	case code >= 300:
		return colorRedir + s + colorReset
	case code >= 200:
		return colorOK + s + colorReset
	}
	return s
}

// LoggingMiddleware writes one access line per request. Server errors are
// logged as warnings so they survive -quiet.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		logf := monitoring.Infof
		if sw.status >= http.StatusInternalServerError {
			logf = monitoring.Warnf
		}
		logf(monitoring.TagAPI, "[%s] %s %s%s%s %dB %.2fms",
			statusCodeColor(sw.status), r.Method,
			colorPath, r.RequestURI, colorReset,
			sw.bytes, float64(time.Since(start).Microseconds())/1e3)
	})
}
