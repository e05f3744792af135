// Command chervil compiles and renders Chervil templates.
//
//	chervil page.chv --data data.yaml      render to stdout
//	chervil --check page.chv               parse only, print diagnostics
//	chervil -e '$items[*].price'           evaluate one expression
//	chervil page.chv --data d.yaml --watch re-render on change
//	chervil                                interactive REPL
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	cherrors "github.com/sambeau/chervil/pkg/chervil/errors"
	"github.com/sambeau/chervil/pkg/chervil/evaluator"
	"github.com/sambeau/chervil/pkg/chervil/lexer"
	"github.com/sambeau/chervil/pkg/chervil/parser"
	"github.com/sambeau/chervil/pkg/chervil/renderer"
	"github.com/sambeau/chervil/pkg/chervil/repl"
	"github.com/sambeau/chervil/pkg/chervil/template"
)

// Version is set at build time via -ldflags
var Version = "0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dataPath   string
	outPath    string
	expr       string
	check      bool
	watch      bool
	noEscape   bool
	comments   bool
	preserveWS bool
	trackWith  string
	strict     bool
	validate   bool

	maxIterations int
	maxTotal      int
	maxLoopDepth  int
	maxCompDepth  int
}

// run is the entry point, split out for testability.
func run(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("chervil", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var opts options
	flags.StringVar(&opts.dataPath, "data", "", "Path to YAML/JSON data file")
	flags.StringVar(&opts.outPath, "o", "", "Write output to file instead of stdout")
	flags.StringVar(&opts.expr, "e", "", "Evaluate a single expression")
	flags.BoolVar(&opts.check, "check", false, "Parse only; print diagnostics")
	flags.BoolVar(&opts.watch, "watch", false, "Re-render when the template or data file changes")
	flags.BoolVar(&opts.noEscape, "no-escape", false, "Disable HTML escaping")
	flags.BoolVar(&opts.comments, "comments", false, "Render markup comments")
	flags.BoolVar(&opts.preserveWS, "preserve-whitespace", false, "Keep whitespace verbatim")
	flags.StringVar(&opts.trackWith, "track-prefix", "", "Inject source-position attributes with this prefix")
	flags.BoolVar(&opts.strict, "strict", false, "Report likely-undefined variables in component bodies")
	flags.BoolVar(&opts.validate, "validate", false, "Validate component usage at compile time")
	flags.IntVar(&opts.maxIterations, "max-iterations", 0, "Iterations-per-loop ceiling")
	flags.IntVar(&opts.maxTotal, "max-total-iterations", 0, "Total-iterations ceiling")
	flags.IntVar(&opts.maxLoopDepth, "max-loop-depth", 0, "Loop nesting ceiling")
	flags.IntVar(&opts.maxCompDepth, "max-component-depth", 0, "Component nesting ceiling")
	showVersion := flags.Bool("version", false, "Show version")
	showHelp := flags.Bool("help", false, "Show help")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showHelp {
		printUsage(stdout)
		return nil
	}
	if *showVersion {
		fmt.Fprintf(stdout, "chervil version %s\n", Version)
		return nil
	}

	data, err := loadData(opts.dataPath)
	if err != nil {
		return err
	}

	if opts.expr != "" {
		return evalExpression(opts.expr, data, stdout, stderr)
	}

	files := flags.Args()
	if len(files) == 0 {
		repl.Start(os.Stdin, stdout, Version, data, nil)
		return nil
	}

	if opts.check {
		return checkFiles(files, stderr)
	}

	if len(files) > 1 {
		return fmt.Errorf("expected one template file, got %d", len(files))
	}

	if opts.watch {
		return watchAndRender(files[0], opts, stdout, stderr)
	}
	return renderFile(files[0], opts, stdout, stderr)
}

// loadData reads a YAML or JSON data file into a map. YAML is a superset
// of JSON, so one decoder covers both.
func loadData(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading data file: %w", err)
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// evalExpression runs a single expression against the loaded data and
// prints the result.
func evalExpression(src string, data map[string]any, stdout, stderr io.Writer) error {
	expr, diags := parser.ParseExpression(src, lexer.Position{Line: 1, Column: 1}, parser.Options{})
	for _, d := range diags {
		fmt.Fprintln(stderr, d.String())
		printSourceContext(stderr, strings.Split(src, "\n"), d.Start.Line, d.Start.Column)
	}
	if expr == nil {
		return fmt.Errorf("expression did not parse")
	}

	scope := evaluator.NewScopeFromGo(data, nil)
	eval := evaluator.New(evaluator.DefaultHelpers(), func(msg string) {
		fmt.Fprintln(stderr, "warning:", msg)
	}, evaluator.Limits{})

	result := eval.Eval(expr, scope)
	if errObj, ok := result.(*evaluator.Error); ok {
		return errObj.ToTemplateError()
	}
	fmt.Fprintln(stdout, result.Inspect())
	return nil
}

// checkFiles parse-checks each file and prints diagnostics with source
// context. Any error-severity diagnostic makes the command fail.
func checkFiles(files []string, stderr io.Writer) error {
	failed := false
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		source := string(content)
		compiled := template.Compile(source, template.CompileOptions{Validate: true})

		lines := strings.Split(source, "\n")
		for _, d := range compiled.Diagnostics {
			fmt.Fprintf(stderr, "%s: %s\n", path, d.String())
			printSourceContext(stderr, lines, d.Start.Line, d.Start.Column)
		}
		if compiled.HasErrors() {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}

func renderFile(path string, opts options, stdout, stderr io.Writer) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	source := string(content)

	data, err := loadData(opts.dataPath)
	if err != nil {
		return err
	}

	compiled := template.Compile(source, template.CompileOptions{
		Strict:   opts.strict,
		Validate: opts.validate,
	})
	lines := strings.Split(source, "\n")
	for _, d := range compiled.Diagnostics {
		fmt.Fprintf(stderr, "%s: %s\n", path, d.String())
		printSourceContext(stderr, lines, d.Start.Line, d.Start.Column)
	}
	if compiled.HasErrors() {
		return fmt.Errorf("template has errors")
	}

	result, err := compiled.Render(data, renderer.Options{
		DisableEscaping:    opts.noEscape,
		IncludeComments:    opts.comments,
		PreserveWhitespace: opts.preserveWS,
		TrackPrefix:        opts.trackWith,
		Limits: renderer.Limits{
			IterationsPerLoop: opts.maxIterations,
			TotalIterations:   opts.maxTotal,
			LoopNesting:       opts.maxLoopDepth,
			ComponentDepth:    opts.maxCompDepth,
		},
	})
	if err != nil {
		printRenderError(stderr, path, lines, err)
		return fmt.Errorf("render failed")
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(stderr, "warning:", w)
	}

	if opts.outPath != "" {
		return os.WriteFile(opts.outPath, []byte(result.HTML), 0o644)
	}
	fmt.Fprintln(stdout, result.HTML)
	return nil
}

// watchAndRender renders once, then re-renders whenever the template or
// the data file changes. Editor save patterns (rename+create, multiple
// writes) are absorbed with a short debounce.
func watchAndRender(path string, opts options, stdout, stderr io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	if opts.dataPath != "" {
		if err := watcher.Add(opts.dataPath); err != nil {
			return fmt.Errorf("watching %s: %w", opts.dataPath, err)
		}
	}

	render := func() {
		if err := renderFile(path, opts, stdout, stderr); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
	}
	render()
	fmt.Fprintf(stderr, "watching %s for changes...\n", path)

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors replace files on save; re-add dropped watches.
			if event.Op&fsnotify.Rename != 0 {
				watcher.Add(event.Name)
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, render)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(stderr, "watch error: %v\n", err)
		}
	}
}

// printRenderError prints a render failure, with source context and limit
// details when available.
func printRenderError(w io.Writer, path string, lines []string, err error) {
	te, ok := err.(*cherrors.TemplateError)
	if !ok {
		fmt.Fprintf(w, "%s: %v\n", path, err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", path, te.PrettyString())
	if te.Line > 0 {
		printSourceContext(w, lines, te.Line, te.Column)
	}
}

// printSourceContext prints the offending source line with a caret under
// the error column.
func printSourceContext(w io.Writer, lines []string, lineNum, colNum int) {
	if lineNum <= 0 || lineNum > len(lines) {
		return
	}
	sourceLine := lines[lineNum-1]

	trimCount := 0
	for i := 0; i < len(sourceLine); i++ {
		if sourceLine[i] == ' ' {
			trimCount++
		} else if sourceLine[i] == '\t' {
			trimCount += 8
		} else {
			break
		}
	}
	trimmed := strings.TrimLeft(sourceLine, " \t")
	fmt.Fprintf(w, "    %s\n", trimmed)

	pointer := colNum - trimCount - 1
	if pointer < 0 {
		pointer = 0
	}
	if pointer > len(trimmed) {
		pointer = len(trimmed)
	}
	fmt.Fprintf(w, "    %s^\n", strings.Repeat(" ", pointer))
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `chervil - template language compiler and renderer

Usage:
  chervil [options] [template.chv]

Options:
  --data PATH             YAML/JSON data file
  -o PATH                 Write output to file instead of stdout
  -e EXPR                 Evaluate a single expression
  --check                 Parse only; print diagnostics
  --watch                 Re-render on template/data change
  --no-escape             Disable HTML escaping
  --comments              Render markup comments
  --preserve-whitespace   Keep whitespace verbatim
  --track-prefix P        Inject source-position attributes
  --strict                Report likely-undefined variables
  --validate              Validate component usage at compile time
  --max-iterations N      Iterations-per-loop ceiling (default %d)
  --max-total-iterations N  Total-iterations ceiling (default %d)
  --max-loop-depth N      Loop nesting ceiling (default %d)
  --max-component-depth N Component nesting ceiling (default %d)
  --version               Show version
  --help                  Show this help

With no template file and no -e, chervil starts an expression REPL.

Examples:
  chervil page.chv --data data.yaml
  chervil --check templates/*.chv
  chervil -e '1 + 2 * 3'
  chervil page.chv --data data.yaml --watch
`, renderer.DefaultIterationsPerLoop, renderer.DefaultTotalIterations,
		renderer.DefaultLoopNesting, renderer.DefaultComponentDepth)
}
