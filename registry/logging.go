package registry

import (
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonLogEntry represents an access log entry in JSON format.
type jsonLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	Size      int       `json:"size"`
	Referer   string    `json:"referer"`
	UserAgent string    `json:"user_agent"`
}

// responseLogger captures the status and body size written to the wrapped
// ResponseWriter.
type responseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Write(p []byte) (int, error) {
	size, err := l.w.Write(p)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(status int) {
	l.status = status
	l.w.WriteHeader(status)
}

func (l *responseLogger) Status() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

func (l *responseLogger) Size() int {
	return l.size
}

// JSONLoggingHandler returns a http.Handler that wraps h and logs requests
// to out as JSON lines carrying the fields of the Combined Log Format.
func JSONLoggingHandler(out io.Writer, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := &responseLogger{w: w}
		ts := time.Now()

		h.ServeHTTP(logger, req)

		if req.MultipartForm != nil {
			// nolint:errcheck
			req.MultipartForm.RemoveAll()
		}

		line, err := json.Marshal(&jsonLogEntry{
			Timestamp: ts.UTC(),
			Method:    req.Method,
			Path:      req.URL.Path,
			Status:    logger.Status(),
			Size:      logger.Size(),
			Referer:   req.Referer(),
			UserAgent: req.UserAgent(),
		})
		if err != nil {
			return
		}

		// A single Write keeps concurrent entries from interleaving.
		// nolint:errcheck
		out.Write(append(line, '\n'))
	})
}
