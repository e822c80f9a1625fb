package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAF(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		userAgent      string
		body           string
		expectedStatus int
		expectedRule   string
	}{
		{
			name:           "Safe Request",
			target:         "/v1/check?policy=sdk",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "SQL Injection in Query",
			target:         "/v1/check?q=" + "UNION%20SELECT%20*%20FROM%20users",
			expectedStatus: http.StatusForbidden,
			expectedRule:   "sql-union",
		},
		{
			name:           "Traversal in Query",
			target:         "/v1/check?file=../../etc/passwd",
			expectedStatus: http.StatusForbidden,
			expectedRule:   "traversal",
		},
		{
			name:           "Script in Query Key",
			target:         "/v1/check?%3Cscript%3E=1",
			expectedStatus: http.StatusForbidden,
			expectedRule:   "xss-script",
		},
		{
			name:           "Scanner User Agent",
			target:         "/",
			userAgent:      "sqlmap/1.7",
			expectedStatus: http.StatusForbidden,
			expectedRule:   "sqlmap",
		},
		{
			name:           "Script Source in Body",
			target:         "/v1/interpret",
			body:           `{"source": "const a = '<script>alert(1)</script>'; -- comment"}`,
			expectedStatus: http.StatusOK,
		},
	}

	handler := WAF(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.target, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.userAgent != "" {
				req.Header.Set("User-Agent", tt.userAgent)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code, "Case: %s", tt.name)
			if tt.expectedRule == "" {
				return
			}
			var body map[string]any
			require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.expectedRule, body["rule"])
		})
	}
}

func TestWAFDisabled(t *testing.T) {
	handler := WAF(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/?q=../etc/passwd", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMatchRule(t *testing.T) {
	assert.Empty(t, matchRule(""))
	assert.Empty(t, matchRule("sdk"))
	assert.Equal(t, "sql-sleep", matchRule("1 AND SLEEP(5)"))
	assert.Equal(t, "xss-scheme", matchRule("javascript:alert(1)"))
	assert.Equal(t, "sensitive-file", matchRule("/etc/shadow"))
}
