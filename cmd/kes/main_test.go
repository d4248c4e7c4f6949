package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func kes(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		src    string
		code   int
		stdout string
		stderr string
	}{
		{"ok", "- println: [\"hi\"]\n", exitOK, "hi\n", ""},
		{"syntax", "- loop: []\n", exitCompileError, "", "syntax error: line 1"},
		{"compile", "- println: [{load: x}]\n", exitCompileError, "", "compile error:"},
		{"fault", "- println: [{binary: {op: \"%\", left: 1, right: 0}}]\n", exitRuntimeFault, "", "runtime fault: division by zero in main#0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".kes.yaml", tt.src)
			code, stdout, stderr := kes(t, "run", "-C", dir, "-no-cache", path)
			if code != tt.code {
				t.Errorf("exit code = %d, want %d (stderr %q)", code, tt.code, stderr)
			}
			if stdout != tt.stdout {
				t.Errorf("stdout = %q, want %q", stdout, tt.stdout)
			}
			if !strings.Contains(stderr, tt.stderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.stderr)
			}
		})
	}
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, exitUsage},
		{"help", []string{"help"}, exitOK},
		{"unknown command", []string{"frob", "x"}, exitUsage},
		{"missing file arg", []string{"run"}, exitUsage},
		{"bad flag", []string{"run", "-nope", "x"}, exitUsage},
		{"missing file", []string{"run", "-C", dir, filepath.Join(dir, "absent.kes.yaml")}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := kes(t, tt.args...); code != tt.code {
				t.Errorf("exit code = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestBuildExecDis(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.kes.yaml", `
- func:
    name: sq
    params: [{name: n, type: int}]
    returns: int
    body:
      - return: {binary: {op: "*", left: {load: n}, right: {load: n}}}
- println: [{call: {name: sq, args: [9]}}]
`)
	if code, _, stderr := kes(t, "build", "-C", dir, src); code != exitOK {
		t.Fatalf("build exit code = %d: %s", code, stderr)
	}
	img := filepath.Join(dir, "prog.kbc")
	if _, err := os.Stat(img); err != nil {
		t.Fatalf("image not written: %v", err)
	}

	code, stdout, stderr := kes(t, "exec", "-C", dir, img)
	if code != exitOK || stdout != "81\n" {
		t.Errorf("exec = %d, %q (stderr %q), want 0, %q", code, stdout, stderr, "81\n")
	}

	for _, file := range []string{src, img} {
		code, stdout, _ = kes(t, "dis", "-C", dir, file)
		if code != exitOK {
			t.Errorf("dis %s exit code = %d", filepath.Base(file), code)
		}
		if !strings.Contains(stdout, "CALL") || !strings.Contains(stdout, "sq") {
			t.Errorf("dis %s output missing the call:\n%s", filepath.Base(file), stdout)
		}
	}

	out := filepath.Join(dir, "custom.bin")
	if code, _, _ := kes(t, "build", "-C", dir, "-o", out, src); code != exitOK {
		t.Fatalf("build -o exit code = %d", code)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("image not written to -o path: %v", err)
	}

	bad := writeFile(t, dir, "bad.kbc", "not an image")
	if code, _, _ := kes(t, "exec", "-C", dir, bad); code != exitCompileError {
		t.Errorf("exec of a bad image exit code = %d, want %d", code, exitCompileError)
	}
}

func TestManifestLimits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "kestrel.toml", "[vm]\nmax-frames = 4\n\n[output]\nfloat-precision = 2\n")
	src := writeFile(t, dir, "deep.kes.yaml", `
- func:
    name: down
    params: [{name: n, type: int}]
    body:
      - if:
          cond: {binary: {op: ">", left: {load: n}, right: 0}}
          then:
            - expr: {call: {name: down, args: [{binary: {op: "-", left: {load: n}, right: 1}}]}}
- println: [{double: 0.5}]
- expr: {call: {name: down, args: [10]}}
`)
	code, stdout, stderr := kes(t, "run", "-C", dir, "-no-cache", src)
	if code != exitRuntimeFault || !strings.Contains(stderr, "stack overflow") {
		t.Errorf("run = %d, %q, want a stack overflow", code, stderr)
	}
	if stdout != "0.50\n" {
		t.Errorf("stdout = %q, want %q", stdout, "0.50\n")
	}

	// -max-frames overrides the manifest.
	if code, _, stderr := kes(t, "run", "-C", dir, "-no-cache", "-max-frames", "64", src); code != exitOK {
		t.Errorf("run with -max-frames = %d, %q, want 0", code, stderr)
	}
}

func TestRunCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "kestrel.toml", "[cache]\nenabled = true\npath = \"cache/images.db\"\n")
	src := writeFile(t, dir, "hi.kes.yaml", "- println: [\"cached\"]\n")
	for i := 0; i < 2; i++ {
		code, stdout, stderr := kes(t, "run", "-C", dir, src)
		if code != exitOK || stdout != "cached\n" {
			t.Fatalf("run %d = %d, %q (stderr %q)", i, code, stdout, stderr)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", "images.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestImagePath(t *testing.T) {
	tests := map[string]string{
		"a/prog.kes.yaml": "a/prog.kbc",
		"prog.kes.yml":    "prog.kbc",
		"prog.yaml":       "prog.kbc",
		"prog":            "prog.kbc",
	}
	for in, want := range tests {
		if got := imagePath(in); got != want {
			t.Errorf("imagePath(%q) = %q, want %q", in, got, want)
		}
	}
}
