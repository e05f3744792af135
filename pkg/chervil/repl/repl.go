// Package repl implements an interactive expression shell: one line of
// expression in, its evaluated value out. Useful for trying out paths,
// operators and helpers against a loaded data file without writing a
// template.
package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"gopkg.in/yaml.v3"

	"github.com/sambeau/chervil/pkg/chervil/evaluator"
	"github.com/sambeau/chervil/pkg/chervil/lexer"
	"github.com/sambeau/chervil/pkg/chervil/parser"
)

const PROMPT = ">> "

const LOGO = `
█▀▀ █░█ █▀▀ █▀█ █░█ █ █░░
█▄▄ █▀█ ██▄ █▀▄ ▀▄▀ █ █▄▄ `

// completionWords seeds tab completion: operators aside, everything a
// user can type by name.
var completionWords = []string{
	"true", "false", "null",
	// string helpers
	"upper", "lower", "trim", "capitalize", "length", "contains",
	"replace", "split", "join", "truncate", "slug",
	// math helpers
	"abs", "floor", "ceil", "round", "sqrt", "min", "max", "sum", "clamp", "number",
	// markdown
	"markdown", "markdownInline", "markdownUnsafe",
	// date/time
	"now", "parseDate", "formatDate", "year", "month", "day",
	// formatting
	"formatNumber", "formatPercent", "formatCurrency",
}

// Start runs the REPL until EOF or an exit command. data and globals seed
// the scope every expression evaluates against.
func Start(in io.Reader, out io.Writer, version string, data, globals map[string]any) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		return filterCompletions(prefix)
	})

	historyFile := filepath.Join(os.TempDir(), ".chervil_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	scope := evaluator.NewScopeFromGo(data, globals)

	fmt.Fprintf(out, "%s", LOGO)
	fmt.Fprintln(out, "v", version)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Type an expression, 'exit' or Ctrl+D to quit")
	fmt.Fprintln(out, "Type ':help' for REPL commands")
	fmt.Fprintln(out, "")

	for {
		input, err := line.Prompt(PROMPT)
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Fprintln(out, "^C")
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}

		trimmed := strings.TrimSpace(input)
		switch {
		case trimmed == "":
			continue
		case trimmed == "exit" || trimmed == "quit":
			fmt.Fprintln(out, "Goodbye!")
			return
		case strings.HasPrefix(trimmed, ":"):
			scope = handleCommand(trimmed, scope, out)
			continue
		}

		line.AppendHistory(input)
		evalAndPrint(trimmed, scope, out)
	}
}

// evalAndPrint runs one expression against the scope and prints its value
// or errors.
func evalAndPrint(src string, scope *evaluator.Scope, out io.Writer) {
	expr, diags := parser.ParseExpression(src, lexer.Position{Line: 1, Column: 1}, parser.Options{})
	if len(diags) > 0 {
		for _, d := range diags {
			fmt.Fprintln(out, d.String())
		}
		if expr == nil {
			return
		}
	}
	if expr == nil {
		return
	}

	var warnings []string
	eval := evaluator.New(evaluator.DefaultHelpers(), func(msg string) {
		warnings = append(warnings, msg)
	}, evaluator.Limits{})

	result := eval.Eval(expr, scope)
	for _, w := range warnings {
		fmt.Fprintln(out, "warning:", w)
	}
	if errObj, ok := result.(*evaluator.Error); ok {
		fmt.Fprintln(out, errObj.ToTemplateError().String())
		return
	}
	fmt.Fprintln(out, result.Inspect())
}

// handleCommand runs one colon command and returns the (possibly replaced)
// scope.
func handleCommand(cmd string, scope *evaluator.Scope, out io.Writer) *evaluator.Scope {
	switch {
	case cmd == ":help":
		fmt.Fprintln(out, "REPL commands:")
		fmt.Fprintln(out, "  :help         show this help")
		fmt.Fprintln(out, "  :data         list the names in the data tier")
		fmt.Fprintln(out, "  :globals      list the names in the globals tier")
		fmt.Fprintln(out, "  :load PATH    load a YAML/JSON file as the data tier")
		fmt.Fprintln(out, "  exit          quit")
	case cmd == ":data":
		printTier(scope.Data(), out)
	case cmd == ":globals":
		printTier(scope.Globals(), out)
	case strings.HasPrefix(cmd, ":load"):
		path := strings.TrimSpace(strings.TrimPrefix(cmd, ":load"))
		if path == "" {
			fmt.Fprintln(out, "usage: :load PATH")
			return scope
		}
		loaded, err := loadDataFile(path)
		if err != nil {
			fmt.Fprintf(out, "load error: %v\n", err)
			return scope
		}
		fmt.Fprintf(out, "loaded %d names from %s\n", len(loaded), path)
		return evaluator.NewScopeFromGo(loaded, objectMapToGo(scope.Globals()))
	default:
		fmt.Fprintf(out, "unknown command %s (try :help)\n", cmd)
	}
	return scope
}

// loadDataFile reads a YAML or JSON file into a map. YAML is a superset of
// JSON, so one decoder covers both.
func loadDataFile(path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func objectMapToGo(tier map[string]evaluator.Object) map[string]any {
	out := make(map[string]any, len(tier))
	for k, v := range tier {
		out[k] = evaluator.ToGo(v)
	}
	return out
}

func printTier(tier map[string]evaluator.Object, out io.Writer) {
	if len(tier) == 0 {
		fmt.Fprintln(out, "(empty)")
		return
	}
	names := make([]string, 0, len(tier))
	for k := range tier {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s = %s\n", name, tier[name].Inspect())
	}
}

func filterCompletions(prefix string) []string {
	// Complete only the trailing word so paths and operators survive.
	start := strings.LastIndexAny(prefix, " ([{,+-*/%<>=!&|?:")
	head, word := "", prefix
	if start >= 0 {
		head, word = prefix[:start+1], prefix[start+1:]
	}
	if word == "" {
		return nil
	}
	var out []string
	for _, candidate := range completionWords {
		if strings.HasPrefix(candidate, word) {
			out = append(out, head+candidate)
		}
	}
	return out
}
