// Package errors provides structured error types for the Chervil template
// language.
//
// Two units live here: Diagnostic, the non-fatal located message shared
// between the compiler and consuming tooling, and TemplateError, the typed
// runtime error surfaced by evaluation and rendering.
package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/sambeau/chervil/pkg/chervil/lexer"
)

// Severity classifies diagnostics.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityHint    Severity = "hint"
)

// Diagnostic is a structured, located message describing a parse or
// validation issue. Diagnostics are non-fatal: the compiler accumulates
// them and keeps going.
type Diagnostic struct {
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Start    lexer.Position `json:"start"`
	End      lexer.Position `json:"end"`
}

// String returns a formatted single-line representation of the diagnostic.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: line %d, column %d: %s", d.Severity, d.Start.Line, d.Start.Column, d.Message)
}

// ErrorClass categorizes runtime errors for filtering and templating.
type ErrorClass string

const (
	ClassParse     ErrorClass = "parse"     // Fatal parse failures
	ClassConfig    ErrorClass = "config"    // Invalid caller configuration
	ClassType      ErrorClass = "type"      // Type mismatches
	ClassArity     ErrorClass = "arity"     // Wrong argument count
	ClassUndefined ErrorClass = "undefined" // Not found/defined
	ClassHelper    ErrorClass = "helper"    // Helper dispatch and helper-thrown errors
	ClassComponent ErrorClass = "component" // Component instantiation
	ClassLimit     ErrorClass = "limit"     // Resource-limit violations
	ClassFormat    ErrorClass = "format"    // Invalid format/parse of values
)

// TemplateError represents any fatal error from evaluation or rendering.
type TemplateError struct {
	Class   ErrorClass     `json:"class"`           // Error category
	Code    string         `json:"code"`            // Error code (e.g., "LIMIT-0002")
	Message string         `json:"message"`         // Human-readable message
	Hints   []string       `json:"hints,omitempty"` // Suggestions for fixing
	Line    int            `json:"line"`            // 1-based line (0 if unknown)
	Column  int            `json:"column"`          // 1-based column (0 if unknown)
	Data    map[string]any `json:"data,omitempty"`  // Template variables

	// Resource-limit context, set when Class == ClassLimit.
	Limit string `json:"limit,omitempty"` // Name of the violated limit
	Value int    `json:"value,omitempty"` // Value at the moment of violation
	Max   int    `json:"max,omitempty"`   // Configured ceiling
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return e.String()
}

// String returns a formatted string representation of the error.
func (e *TemplateError) String() string {
	var sb strings.Builder

	if e.Line > 0 {
		sb.WriteString(fmt.Sprintf("line %d, column %d: ", e.Line, e.Column))
	}
	sb.WriteString(e.Message)
	if e.Class == ClassLimit && e.Limit != "" {
		sb.WriteString(fmt.Sprintf(" (%s: %d, max %d)", e.Limit, e.Value, e.Max))
	}
	for _, hint := range e.Hints {
		sb.WriteString("\n  ")
		sb.WriteString(hint)
	}
	return sb.String()
}

// PrettyString returns a multi-line formatted string for display.
func (e *TemplateError) PrettyString() string {
	var sb strings.Builder

	switch e.Class {
	case ClassParse:
		sb.WriteString("Parse error")
	case ClassConfig:
		sb.WriteString("Configuration error")
	case ClassLimit:
		sb.WriteString("Resource limit exceeded")
	default:
		sb.WriteString("Render error")
	}

	if e.Line > 0 {
		sb.WriteString(fmt.Sprintf(": line %d, column %d\n  ", e.Line, e.Column))
	} else {
		sb.WriteString(":\n  ")
	}

	sb.WriteString(e.Message)
	if e.Class == ClassLimit && e.Limit != "" {
		sb.WriteString(fmt.Sprintf("\n  limit: %s = %d (reached %d)", e.Limit, e.Max, e.Value))
	}

	for i, hint := range e.Hints {
		sb.WriteString("\n  ")
		if i == 0 {
			sb.WriteString("Use: ")
		} else {
			sb.WriteString(" or: ")
		}
		sb.WriteString(hint)
	}

	return sb.String()
}

// ToJSON returns the error as JSON bytes.
func (e *TemplateError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WithPosition returns a copy of the error with line and column set.
func (e *TemplateError) WithPosition(line, column int) *TemplateError {
	copy := *e
	copy.Line = line
	copy.Column = column
	return &copy
}

// IsLimitError reports whether this error is a resource-limit violation.
func (e *TemplateError) IsLimitError() bool {
	return e.Class == ClassLimit
}

// ErrorDef defines an error in the catalog.
type ErrorDef struct {
	Class    ErrorClass // Error category
	Template string     // Message template with {{.placeholders}}
	Hints    []string   // Hint templates (may use {{.placeholders}})
}

// ErrorCatalog maps error codes to their definitions.
var ErrorCatalog = map[string]ErrorDef{
	// ========================================
	// Parse errors (PARSE-0xxx)
	// ========================================
	"PARSE-0001": {
		Class:    ClassParse,
		Template: "expected {{.Expected}}, got '{{.Got}}'",
	},
	"PARSE-0002": {
		Class:    ClassParse,
		Template: "unexpected token '{{.Token}}'",
	},
	"PARSE-0003": {
		Class:    ClassParse,
		Template: "unterminated string",
	},
	"PARSE-0004": {
		Class:    ClassParse,
		Template: "empty expression",
		Hints:    []string{"${expr} needs an expression between the braces"},
	},
	"PARSE-0005": {
		Class:    ClassParse,
		Template: "mismatched closing tag </{{.Got}}>, expected </{{.Expected}}>",
	},
	"PARSE-0006": {
		Class:    ClassParse,
		Template: "missing closing tag </{{.Tag}}>",
	},
	"PARSE-0007": {
		Class:    ClassParse,
		Template: "invalid attribute value for '{{.Name}}'",
		Hints:    []string{`{{.Name}}="text"`, "{{.Name}}=${expr}"},
	},
	"PARSE-0008": {
		Class:    ClassParse,
		Template: "duplicate definition of component '{{.Name}}'",
	},

	// ========================================
	// Type errors (TYPE-0xxx)
	// ========================================
	"TYPE-0001": {
		Class:    ClassType,
		Template: "{{.Function}} expected {{.Expected}}, got {{.Got}}",
	},
	"TYPE-0002": {
		Class:    ClassType,
		Template: "cannot call {{.Got}} as a function",
	},
	"TYPE-0003": {
		Class:    ClassType,
		Template: "cannot iterate over {{.Got}}",
		Hints:    []string{"@for works with arrays (of) and dictionaries (in)"},
	},

	// ========================================
	// Arity errors (ARITY-0xxx)
	// ========================================
	"ARITY-0001": {
		Class:    ClassArity,
		Template: "wrong number of arguments to {{.Function}}: want {{.Want}}, got {{.Got}}",
	},

	// ========================================
	// Undefined / helper errors (EVAL-0xxx)
	// ========================================
	"EVAL-0001": {
		Class:    ClassHelper,
		Template: "unknown helper '{{.Name}}'",
	},
	"EVAL-0002": {
		Class:    ClassHelper,
		Template: "helper '{{.Name}}' failed: {{.Reason}}",
	},

	// ========================================
	// Component errors (COMP-0xxx)
	// ========================================
	"COMP-0001": {
		Class:    ClassComponent,
		Template: "unknown component '{{.Name}}'",
		Hints:    []string{"define it with <template:{{.Name}} ...>...</template:{{.Name}}>"},
	},
	"COMP-0002": {
		Class:    ClassComponent,
		Template: "component '{{.Name}}' is missing required prop '{{.Prop}}'",
	},

	// ========================================
	// Resource-limit errors (LIMIT-0xxx)
	// ========================================
	"LIMIT-0001": {
		Class:    ClassLimit,
		Template: "maximum expression nesting depth exceeded",
	},
	"LIMIT-0002": {
		Class:    ClassLimit,
		Template: "loop iteration limit exceeded",
		Hints:    []string{"raise Limits.IterationsPerLoop if the data is expected to be this large"},
	},
	"LIMIT-0003": {
		Class:    ClassLimit,
		Template: "total iteration limit exceeded",
	},
	"LIMIT-0004": {
		Class:    ClassLimit,
		Template: "loop nesting limit exceeded",
	},
	"LIMIT-0005": {
		Class:    ClassLimit,
		Template: "component nesting depth exceeded",
		Hints:    []string{"a component that renders itself needs a terminating condition"},
	},
	"LIMIT-0006": {
		Class:    ClassLimit,
		Template: "parser call budget exceeded",
	},
	"LIMIT-0007": {
		Class:    ClassLimit,
		Template: "parser recursion depth exceeded",
	},
	"LIMIT-0008": {
		Class:    ClassLimit,
		Template: "function call depth exceeded",
	},

	// ========================================
	// Configuration errors (CONFIG-0xxx)
	// ========================================
	"CONFIG-0001": {
		Class:    ClassConfig,
		Template: "invalid source-tracking prefix {{printf \"%q\" .Prefix}}",
		Hints:    []string{"the prefix must match ^[A-Za-z_][\\w-]*$ or be empty"},
	},
}

// New creates a TemplateError from a catalog code, expanding the message
// and hint templates with data.
func New(code string, data map[string]any) *TemplateError {
	def, ok := ErrorCatalog[code]
	if !ok {
		return &TemplateError{
			Class:   ClassType,
			Code:    code,
			Message: fmt.Sprintf("unknown error code %s", code),
			Data:    data,
		}
	}

	return &TemplateError{
		Class:   def.Class,
		Code:    code,
		Message: expandTemplate(def.Template, data),
		Hints:   expandHints(def.Hints, data),
		Data:    data,
	}
}

// NewWithPosition creates a TemplateError from a catalog code with a position.
func NewWithPosition(code string, line, column int, data map[string]any) *TemplateError {
	err := New(code, data)
	err.Line = line
	err.Column = column
	return err
}

// expandTemplate renders a message template with the given data.
// On template failure the raw template text is returned rather than
// losing the error entirely.
func expandTemplate(tmpl string, data map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return tmpl
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return tmpl
	}
	return buf.String()
}

// expandHints renders hint templates with the given data.
func expandHints(hints []string, data map[string]any) []string {
	if len(hints) == 0 {
		return nil
	}
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = expandTemplate(h, data)
	}
	return out
}
