package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{"--version"}, stdout, stderr)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "chervil version") {
		t.Errorf("expected version output, got %q", stdout.String())
	}
}

func TestRunHelp(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{"--help"}, stdout, stderr)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "Usage:") {
		t.Errorf("expected usage output, got %q", stdout.String())
	}
}

func TestRunEvalExpression(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{"-e", "1 + 2 * 3"}, stdout, stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "7" {
		t.Errorf("expected 7, got %q", got)
	}
}

func TestRunEvalWithData(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.yaml")
	yaml := "items:\n  - price: 10\n  - price: 20\n"
	if err := os.WriteFile(dataPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{"-e", "sum($items[*].price)", "--data", dataPath}, stdout, stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "30" {
		t.Errorf("expected 30, got %q", got)
	}
}

func TestRunEvalBadExpression(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{"-e", "1 +"}, stdout, stderr)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(stderr.String(), "unexpected end of expression") {
		t.Errorf("expected a diagnostic on stderr, got %q", stderr.String())
	}
}

func TestRunRenderFile(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "page.chv")
	dataPath := filepath.Join(dir, "data.yaml")
	outPath := filepath.Join(dir, "out.html")

	tmpl := `<ul>@for(item of $items){<li>${item.name}</li>}</ul>`
	data := "items:\n  - name: one\n  - name: two\n"
	if err := os.WriteFile(tmplPath, []byte(tmpl), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dataPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{tmplPath, "--data", dataPath, "-o", outPath}, stdout, stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr.String())
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "<ul><li>one</li><li>two</li></ul>"
	if string(out) != want {
		t.Errorf("expected %q, got %q", want, string(out))
	}
}

func TestRunCheckReportsErrors(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.chv")
	if err := os.WriteFile(badPath, []byte("<div>${oops"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	err := run([]string{"--check", badPath}, stdout, stderr)
	if err == nil {
		t.Fatalf("expected check to fail")
	}
	if !strings.Contains(stderr.String(), "bad.chv") {
		t.Errorf("expected the file name in diagnostics, got %q", stderr.String())
	}
}

func TestRunCheckPassesCleanFile(t *testing.T) {
	dir := t.TempDir()
	goodPath := filepath.Join(dir, "good.chv")
	if err := os.WriteFile(goodPath, []byte("<p>${name}</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	if err := run([]string{"--check", goodPath}, stdout, stderr); err != nil {
		t.Errorf("unexpected error: %v\nstderr: %s", err, stderr.String())
	}
}

func TestLoadDataMissingFile(t *testing.T) {
	if _, err := loadData("/no/such/file.yaml"); err == nil {
		t.Errorf("expected an error for a missing data file")
	}
}

func TestLoadDataEmptyPath(t *testing.T) {
	data, err := loadData("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("expected an empty map, got %v", data)
	}
}
