package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfscript/pkg/config"
	"wfscript/pkg/metrics"
)

const demoSource = `const start = trigger({ type: 'n8n-nodes-base.manualTrigger', config: { name: 'Start' } });
const fetch = node({ type: 'n8n-nodes-base.httpRequest', version: 4.2, config: { name: 'Fetch' } });
export default workflow('demo', 'Demo').add(start.to(fetch));`

func newTestServer(t *testing.T, tweak func(*config.Config)) http.Handler {
	t.Helper()
	cfg, err := config.FromLookup(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.RateLimit = 0
	if tweak != nil {
		tweak(cfg)
	}
	srv, err := New(cfg, metrics.NewRecorder(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return srv.Router()
}

func post(t *testing.T, h http.Handler, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw string
	switch b := body.(type) {
	case string:
		raw = b
	default:
		data, err := gojson.Marshal(b)
		require.NoError(t, err)
		raw = string(data)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestInterpretWorkflow(t *testing.T) {
	h := newTestServer(t, nil)
	rec, out := post(t, h, "/v1/interpret", sourceRequest{Source: demoSource})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, true, out["success"])
	wf := out["workflow"].(map[string]any)
	assert.Equal(t, "Demo", wf["name"])
	assert.Len(t, wf["nodes"], 2)
	conn := wf["connections"].(map[string]any)
	assert.Contains(t, conn, "Start")
}

func TestInterpretSecurityViolation(t *testing.T) {
	h := newTestServer(t, nil)
	rec, out := post(t, h, "/v1/interpret", sourceRequest{Source: "const a = 1;\neval('x');", Filename: "flow.js"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, false, out["success"])
	diag := out["error"].(map[string]any)
	assert.Equal(t, "security", diag["kind"])
	assert.Equal(t, "flow.js", diag["filename"])
	assert.Equal(t, 2.0, diag["line"])
	assert.Equal(t, 1.0, diag["col"])
	assert.Contains(t, out["frame"], "> 2 | eval('x');")
}

func TestInterpretResultMustBeWorkflow(t *testing.T) {
	h := newTestServer(t, nil)
	rec, out := post(t, h, "/v1/interpret", sourceRequest{Source: "export default 42;"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["error"].(map[string]any)["message"], "must export a workflow")
}

func TestInterpretCodePolicy(t *testing.T) {
	h := newTestServer(t, nil)
	rec, _ := post(t, h, "/v1/interpret", sourceRequest{
		Policy: "code",
		Source: "let wf = workflow('w', 'W');\nwf = wf.add(node({ type: 'n8n-nodes-base.noOp' }));\nreturn wf;",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out := post(t, h, "/v1/interpret", sourceRequest{Source: "return 1;"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unsupported", out["error"].(map[string]any)["kind"])
}

func TestCheck(t *testing.T) {
	h := newTestServer(t, nil)
	rec, out := post(t, h, "/v1/check", sourceRequest{Source: "const unused = 1;\nexport default workflw('w', 'W');"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, false, out["success"])
	errs := out["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "unknown_identifier", first["kind"])
	assert.Contains(t, first["message"], "did you mean 'workflow'?")
	assert.Len(t, out["warnings"], 1)

	rec, _ = post(t, h, "/v1/check", sourceRequest{Source: demoSource})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errors":[]`)
	assert.Contains(t, rec.Body.String(), `"warnings":[]`)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestBadRequests(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.MaxSourceBytes = 16 })

	rec, out := post(t, h, "/v1/interpret", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "parse", out["error"].(map[string]any)["kind"])

	rec, out = post(t, h, "/v1/check", sourceRequest{Source: "1", Policy: "lenient"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"].(map[string]any)["message"], "unknown policy")

	rec, _ = post(t, h, "/v1/interpret", sourceRequest{Source: strings.Repeat("a", bodySlack+64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec, out = post(t, h, "/v1/interpret", sourceRequest{Source: "export default 'abcdefghijklmnop';"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, out["error"].(map[string]any)["message"], "the limit is 16")
}

func TestPolicyEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/policies/sdk", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var p policyResponse
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "sdk", p.Name)
	assert.Contains(t, p.Functions, "workflow")
	assert.Contains(t, p.Methods, "onTrue")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/policies/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)
	post(t, h, "/v1/interpret", sourceRequest{Source: demoSource})
	post(t, h, "/v1/check", sourceRequest{Source: demoSource})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `wfscript_interpretations_total{outcome="ok",policy="sdk"} 1`)
	assert.Contains(t, body, `wfscript_analyses_total{result="clean"} 1`)
	assert.Contains(t, body, `http_requests_total{method="POST",path="/v1/interpret",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.RateLimit = 2
		c.RateWindow = time.Minute
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestBlockedIP(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.BlockedIPs = []string{"192.0.2.1"} })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	cfg, err := config.FromLookup(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	srv, err := New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	router := srv.Router()
	require.NoError(t, srv.Blocklist().Add("192.0.2.0/24"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	cfg.BlockedIPs = []string{"not-an-ip"}
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/interpret", nil)
	req.Header.Set("Origin", "https://editor.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg, err := config.FromLookup(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.Addr = "127.0.0.1:0"
	srv, err := New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewRejectsUnknownDefaultPolicy(t *testing.T) {
	cfg, err := config.FromLookup(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.Policy = "lenient"
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestDeeplyNestedSourceIsRejected(t *testing.T) {
	h := newTestServer(t, nil)
	src := "export default " + strings.Repeat("(", 400000) + "1" + strings.Repeat(")", 400000) + ";"

	rec, out := post(t, h, "/v1/interpret", sourceRequest{Source: src})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "interpreter", out["error"].(map[string]any)["kind"])

	rec, out = post(t, h, "/v1/check", sourceRequest{Source: src})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Len(t, out["errors"], 1)
}
