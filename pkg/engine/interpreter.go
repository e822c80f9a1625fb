package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Observer receives one call per finished interpretation. Outcome is "ok" or
// the error kind.
type Observer interface {
	ObserveInterpretation(policy, outcome string, elapsed time.Duration)
}

type Option func(*Interpreter)

func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) {
		if l != nil {
			i.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(i *Interpreter) { i.observer = o }
}

// WithFilename names the source in diagnostics.
func WithFilename(name string) Option {
	return func(i *Interpreter) { i.filename = name }
}

// Interpreter evaluates workflow code under a fixed policy. It keeps no
// per-run state and can be shared between goroutines.
type Interpreter struct {
	policy   *Policy
	log      *slog.Logger
	observer Observer
	filename string
}

func New(policy *Policy, opts ...Option) *Interpreter {
	if policy == nil {
		policy = SDKPolicy()
	}
	i := &Interpreter{policy: policy, log: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Interpreter) Policy() *Policy { return i.policy }

// Interpret parses, validates and evaluates src with the strict SDK policy.
func Interpret(src string, fns FunctionTable) (any, error) {
	return New(SDKPolicy()).Interpret(src, fns)
}

func (i *Interpreter) Interpret(src string, fns FunctionTable) (any, error) {
	return i.InterpretContext(context.Background(), src, fns)
}

// InterpretContext is Interpret with a context that is checked between
// statements and before every builder call.
func (i *Interpreter) InterpretContext(ctx context.Context, src string, fns FunctionTable) (any, error) {
	start := time.Now()
	if err := i.checkSize(src); err != nil {
		i.finish(start, err)
		return nil, err
	}
	prog, err := ParseNamed(i.filename, src)
	if err != nil {
		i.finish(start, err)
		return nil, err
	}
	return i.run(ctx, start, prog, fns)
}

// Run evaluates an already parsed program, for example one from LoadScript.
func (i *Interpreter) Run(ctx context.Context, prog *Program, fns FunctionTable) (any, error) {
	return i.run(ctx, time.Now(), prog, fns)
}

func (i *Interpreter) run(ctx context.Context, start time.Time, prog *Program, fns FunctionTable) (result any, err error) {
	defer func() { i.finish(start, err) }()

	if err := i.checkSize(prog.Source); err != nil {
		return nil, err
	}
	if err := i.policy.ValidateProgram(prog); err != nil {
		return nil, err
	}

	r := &runner{
		ctx:    ctx,
		policy: i.policy,
		prog:   prog,
		fns:    fns,
		scope:  NewScope(),
	}

	// ==========================================
	// PANIC RECOVERY
	// ==========================================
	// A panicking builder must not take the host process down with it.
	defer func() {
		if rec := recover(); rec != nil {
			stack := string(debug.Stack())
			i.log.Error("🔥 PANIC RECOVERED IN INTERPRETER",
				"panic", rec,
				"program", prog.String(),
				"policy", i.policy.Name,
				"stack", stack,
			)
			d := newDiagnostic(InterpreterError, "", "builder panicked: %v", rec)
			if r.current != nil {
				prog.Locate(d, r.current)
			}
			result, err = nil, d
		}
	}()

	return r.exec()
}

func (i *Interpreter) checkSize(src string) error {
	if i.policy.MaxSourceBytes > 0 && len(src) > i.policy.MaxSourceBytes {
		return newDiagnostic(InterpreterError, "", "source is %d bytes, the limit is %d", len(src), i.policy.MaxSourceBytes)
	}
	return nil
}

func (i *Interpreter) finish(start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(InterpreterError)
		if d, ok := AsDiagnostic(err); ok {
			outcome = string(d.Kind)
		}
	}
	i.log.Debug("interpretation finished",
		"policy", i.policy.Name,
		"file", i.filename,
		"outcome", outcome,
		"duration", elapsed,
	)
	if i.observer != nil {
		i.observer.ObserveInterpretation(i.policy.Name, outcome, elapsed)
	}
}
