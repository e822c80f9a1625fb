package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a Diagnostic for programmatic handling.
type ErrorKind string

const (
	InterpreterError     ErrorKind = "interpreter"
	ParseError           ErrorKind = "parse"
	UnsupportedConstruct ErrorKind = "unsupported"
	SecurityViolation    ErrorKind = "security"
	UnknownIdentifier    ErrorKind = "unknown_identifier"

	// Warning is only produced by static analysis; the interpreter never
	// fails with it.
	Warning ErrorKind = "warning"
)

// Sentinels for errors.Is. A parse failure matches both ErrParse and
// ErrInterpreter.
var (
	ErrInterpreter          = errors.New("interpreter error")
	ErrParse                = errors.New("syntax error")
	ErrUnsupportedConstruct = errors.New("unsupported construct")
	ErrSecurityViolation    = errors.New("security violation")
	ErrUnknownIdentifier    = errors.New("unknown identifier")
)

func (k ErrorKind) label() string {
	switch k {
	case ParseError:
		return ErrParse.Error()
	case UnsupportedConstruct:
		return ErrUnsupportedConstruct.Error()
	case SecurityViolation:
		return ErrSecurityViolation.Error()
	case UnknownIdentifier:
		return ErrUnknownIdentifier.Error()
	case Warning:
		return "warning"
	default:
		return ErrInterpreter.Error()
	}
}

// Diagnostic is the single error type returned by the parser, the validators
// and the interpreter. Line and Col are 1-based; zero means unknown.
type Diagnostic struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Filename  string    `json:"filename,omitempty"`
	Line      int       `json:"line,omitempty"`
	Col       int       `json:"col,omitempty"`
	Construct string    `json:"construct,omitempty"`
	Source    string    `json:"-"`

	cause error
}

func newDiagnostic(kind ErrorKind, construct string, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Construct: construct,
	}
}

// Error renders the message, the location and, when the source text is
// known, a code frame.
func (d *Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(d.Kind.label())
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.Line > 0 {
		if d.Filename != "" {
			fmt.Fprintf(&b, " (%s:%d:%d)", d.Filename, d.Line, d.Col)
		} else {
			fmt.Fprintf(&b, " (line %d, column %d)", d.Line, d.Col)
		}
		if d.Source != "" {
			b.WriteString("\n\n")
			b.WriteString(CodeFrame(d.Source, d.Line, d.Col))
		}
	}
	return b.String()
}

func (d *Diagnostic) Unwrap() error {
	return d.cause
}

func (d *Diagnostic) Is(target error) bool {
	switch target {
	case ErrInterpreter:
		return d.Kind == InterpreterError || d.Kind == ParseError
	case ErrParse:
		return d.Kind == ParseError
	case ErrUnsupportedConstruct:
		return d.Kind == UnsupportedConstruct
	case ErrSecurityViolation:
		return d.Kind == SecurityViolation
	case ErrUnknownIdentifier:
		return d.Kind == UnknownIdentifier
	}
	return false
}

// Location reports the 1-based position when one is attached.
func (d *Diagnostic) Location() (line, col int, ok bool) {
	return d.Line, d.Col, d.Line > 0
}

// AsDiagnostic extracts the Diagnostic carried by err, if any.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

const frameContext = 2

// CodeFrame renders the offending line with up to two lines of context on
// either side, padded line numbers and a caret under the 1-based column.
// Out-of-range coordinates are clamped.
func CodeFrame(src string, line, col int) string {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	if col < 1 {
		col = 1
	}

	first := max(1, line-frameContext)
	last := min(len(lines), line+frameContext)
	width := len(fmt.Sprint(last))

	var b strings.Builder
	for n := first; n <= last; n++ {
		marker := "  "
		if n == line {
			marker = "> "
		}
		text := lines[n-1]
		fmt.Fprintf(&b, "%s%*d | %s\n", marker, width, n, text)
		if n == line {
			fmt.Fprintf(&b, "  %*s | %s^\n", width, "", caretPadding(text, col))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// caretPadding keeps tabs from the source line so the caret lines up in a
// terminal.
func caretPadding(text string, col int) string {
	runes := []rune(text)
	var pad strings.Builder
	for i := 0; i < col-1; i++ {
		if i < len(runes) && runes[i] == '\t' {
			pad.WriteByte('\t')
		} else {
			pad.WriteByte(' ')
		}
	}
	return pad.String()
}
