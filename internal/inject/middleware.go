package inject

import (
	"bytes"
	"mime"
	"net/http"
	"strconv"

	"github.com/conneroisu/verdrift/internal/logging"
)

// Generator produces the tag for one HTML response. doc is the document
// about to be served, so the baseline can be taken from the exact markup the
// client receives.
type Generator interface {
	Snippet(r *http.Request, doc []byte) ([]byte, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(r *http.Request, doc []byte) ([]byte, error)

// Snippet calls f.
func (f GeneratorFunc) Snippet(r *http.Request, doc []byte) ([]byte, error) { return f(r, doc) }

// Middleware injects the generated tag into every successful, uncompressed
// text/html response. Other responses stream through untouched. A generator
// error fails the response instead of serving a page with a broken monitor.
func Middleware(gen Generator, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("inject")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			iw := &injectingWriter{ResponseWriter: w}
			next.ServeHTTP(iw, r)

			if !iw.buffering {
				return
			}

			tag, err := gen.Snippet(r, iw.buf.Bytes())
			if err != nil {
				logger.Error(r.Context(), err, "Snippet generation failed", "path", r.URL.Path)
				h := w.Header()
				h.Del("Content-Length")
				h.Del("ETag")
				h.Del("Last-Modified")
				http.Error(w, "snippet generation failed: "+err.Error(), http.StatusInternalServerError)
				return
			}

			out := IntoHead(iw.buf.Bytes(), tag)
			h := w.Header()
			h.Del("ETag")
			h.Del("Last-Modified")
			h.Set("Content-Length", strconv.Itoa(len(out)))
			h.Set("Cache-Control", "no-cache")
			w.WriteHeader(iw.status)
			if _, err := w.Write(out); err != nil {
				logger.Debug(r.Context(), "Client went away", "path", r.URL.Path, "error", err.Error())
			}
		})
	}
}

// injectingWriter decides on the first header write whether the response is
// an HTML page to buffer or anything else to pass through.
type injectingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buffering   bool
	buf         bytes.Buffer
}

func (w *injectingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code

	h := w.Header()
	w.buffering = code == http.StatusOK && isHTML(h.Get("Content-Type")) && h.Get("Content-Encoding") == ""
	if !w.buffering {
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *injectingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(p))
		}
		w.WriteHeader(http.StatusOK)
	}
	if w.buffering {
		return w.buf.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

// Flush is a no-op while buffering.
func (w *injectingWriter) Flush() {
	if w.buffering {
		return
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
