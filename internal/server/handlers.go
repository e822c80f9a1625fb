package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	gojson "github.com/goccy/go-json"

	"wfscript/pkg/analysis"
	"wfscript/pkg/engine"
	"wfscript/pkg/workflow"
)

type sourceRequest struct {
	Source   string `json:"source"`
	Policy   string `json:"policy,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type errorResponse struct {
	Success bool               `json:"success"`
	Error   *engine.Diagnostic `json:"error"`
	Frame   string             `json:"frame,omitempty"`
}

type interpretResponse struct {
	Success  bool               `json:"success"`
	Workflow *workflow.Exported `json:"workflow"`
}

type checkResponse struct {
	Success  bool                 `json:"success"`
	Errors   []*engine.Diagnostic `json:"errors"`
	Warnings []*engine.Diagnostic `json:"warnings"`
}

type policyResponse struct {
	Name      string   `json:"name"`
	Export    string   `json:"export"`
	Functions []string `json:"functions"`
	Methods   []string `json:"methods"`
	Globals   []string `json:"globals"`
	MaxDepth  int      `json:"maxDepth"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, kind engine.ErrorKind, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: &engine.Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...)}})
}

func writeDiagnostic(w http.ResponseWriter, d *engine.Diagnostic) {
	resp := errorResponse{Error: d}
	if d.Source != "" && d.Line > 0 {
		resp.Frame = engine.CodeFrame(d.Source, d.Line, d.Col)
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}

// decode reads the request envelope and picks the policy. It writes the
// error response itself and reports whether the caller may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (sourceRequest, string, bool) {
	var req sourceRequest
	limit := int64(s.policies["sdk"].MaxSourceBytes) + bodySlack
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, engine.InterpreterError, "request body exceeds %d bytes", limit)
			return req, "", false
		}
		writeProblem(w, http.StatusBadRequest, engine.InterpreterError, "failed to read request body: %v", err)
		return req, "", false
	}
	if err := gojson.Unmarshal(body, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, engine.ParseError, "invalid request body: %v", err)
		return req, "", false
	}
	name := strings.ToLower(strings.TrimSpace(req.Policy))
	if name == "" {
		name = s.defaultName
	}
	if _, ok := s.policies[name]; !ok {
		writeProblem(w, http.StatusBadRequest, engine.InterpreterError, "unknown policy %q (expected sdk or code)", req.Policy)
		return req, "", false
	}
	return req, name, true
}

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	req, policy, ok := s.decode(w, r)
	if !ok {
		return
	}
	interp := engine.New(s.policies[policy],
		engine.WithLogger(s.log),
		engine.WithObserver(s.metrics),
		engine.WithFilename(req.Filename),
	)
	out, err := interp.InterpretContext(r.Context(), req.Source, workflow.Table())
	if err != nil {
		if d, ok := engine.AsDiagnostic(err); ok {
			writeDiagnostic(w, d)
			return
		}
		s.log.Error("interpretation failed", "error", err)
		writeProblem(w, http.StatusInternalServerError, engine.InterpreterError, "internal error")
		return
	}
	wf, err := workflow.FromResult(out)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, engine.InterpreterError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, interpretResponse{Success: true, Workflow: wf.Export()})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	req, policy, ok := s.decode(w, r)
	if !ok {
		return
	}
	res := s.analyzers[policy].Analyze(req.Filename, req.Source)
	s.metrics.ObserveAnalysis(len(res.Errors), len(res.Warnings))
	writeJSON(w, http.StatusOK, toCheckResponse(res))
}

func toCheckResponse(res analysis.AnalysisResult) checkResponse {
	out := checkResponse{Success: res.Success(), Errors: res.Errors, Warnings: res.Warnings}
	if out.Errors == nil {
		out.Errors = []*engine.Diagnostic{}
	}
	if out.Warnings == nil {
		out.Warnings = []*engine.Diagnostic{}
	}
	return out
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := s.policies[name]
	if !ok {
		writeProblem(w, http.StatusNotFound, engine.InterpreterError, "unknown policy %q", name)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{
		Name:      p.Name,
		Export:    string(p.ExportStyle),
		Functions: p.Functions(),
		Methods:   p.Methods(),
		Globals:   p.Globals(),
		MaxDepth:  p.MaxDepth,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
