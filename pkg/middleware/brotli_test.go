package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrotli(t *testing.T) {
	payload := strings.Repeat(`{"name":"workflow"}`, 100)
	handler := Brotli(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))

	t.Run("Compresses_When_Accepted", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(rec.Body.Bytes())))
		require.NoError(t, err)
		assert.Equal(t, payload, string(out))
	})

	t.Run("Plain_Without_Accept", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, payload, rec.Body.String())
	})

	t.Run("Skips_No_Content", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/empty", nil)
		req.Header.Set("Accept-Encoding", "br")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
	})

	t.Run("Skips_Other_Types", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Accept-Encoding", "br")
		rec := httptest.NewRecorder()
		Brotli(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png"))
		})).ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "png", rec.Body.String())
	})

	t.Run("Disabled", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Accept-Encoding", "br")
		rec := httptest.NewRecorder()
		Brotli(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("plain"))
		})).ServeHTTP(rec, req)
		assert.Equal(t, "plain", rec.Body.String())
	})
}

func TestAcceptsBrotli(t *testing.T) {
	cases := map[string]bool{
		"":                  false,
		"gzip":              false,
		"gzip, br":          true,
		"BR;q=0.5":          true,
		"br;q=0":            false,
		"gzip, deflate, br": true,
	}
	for header, want := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Accept-Encoding", header)
		assert.Equal(t, want, acceptsBrotli(req), "Accept-Encoding: %q", header)
	}
}
