package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Only the media types this service emits are worth compressing: workflow
// JSON, diagnostics and the Prometheus text exposition.
var brotliTypes = []string{"application/json", "text/"}

var brWriterPool = sync.Pool{
	New: func() any {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

type brotliResponseWriter struct {
	http.ResponseWriter
	bw          *brotli.Writer
	compressing bool
	wroteHeader bool
}

func (w *brotliResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	// Error and empty responses are small; only 200 with a known type is
	// compressed.
	if code == http.StatusOK && brotliType(w.Header().Get("Content-Type")) {
		w.compressing = true
		w.Header().Del("Content-Length")
		w.Header().Set("Content-Encoding", "br")
		w.Header().Add("Vary", "Accept-Encoding")
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *brotliResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if !w.compressing {
		return w.ResponseWriter.Write(b)
	}
	return w.bw.Write(b)
}

func (w *brotliResponseWriter) Flush() {
	if w.compressing {
		_ = w.bw.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *brotliResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func brotliType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, prefix := range brotliTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(strings.TrimSpace(name), "br") {
			return strings.ReplaceAll(params, " ", "") != "q=0"
		}
	}
	return false
}

// Brotli compresses responses for clients that accept br. A disabled
// middleware passes requests straight through.
func Brotli(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !acceptsBrotli(r) || w.Header().Get("Content-Encoding") != "" {
				next.ServeHTTP(w, r)
				return
			}

			bw := brWriterPool.Get().(*brotli.Writer)
			bw.Reset(w)
			brw := &brotliResponseWriter{ResponseWriter: w, bw: bw}
			defer func() {
				// Close writes the stream trailer.
				if brw.compressing {
					_ = bw.Close()
				}
				brWriterPool.Put(bw)
			}()

			next.ServeHTTP(brw, r)
		})
	}
}
