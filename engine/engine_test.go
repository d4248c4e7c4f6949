package engine

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/image"
	"github.com/chazu/kestrel/vm"
)

const hello = `
- var: {name: n, init: 6}
- println: ["n*7 = ", {binary: {op: "*", left: {load: n}, right: 7}}]
`

func run(t *testing.T, e *Engine, src string) (Outcome, string) {
	t.Helper()
	var out bytes.Buffer
	o := e.Run(context.Background(), []byte(src), &out)
	return o, out.String()
}

func TestRunOk(t *testing.T) {
	o, out := run(t, New(vm.DefaultOptions()), hello)
	if o.Status != Ok {
		t.Fatalf("status = %v, want ok", o)
	}
	if out != "n*7 = 42\n" {
		t.Errorf("output = %q, want %q", out, "n*7 = 42\n")
	}
	if o.String() != "ok" {
		t.Errorf("String = %q, want ok", o.String())
	}
}

func TestRunCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		check func(error) bool
	}{
		{"syntax", "- loop: []\n", func(err error) bool {
			var list compiler.ErrorList
			return errors.As(err, &list)
		}},
		{"semantic", "- println: [{load: missing}]\n", func(err error) bool {
			return errors.Is(err, compiler.UnresolvedSymbol)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, out := run(t, New(vm.DefaultOptions()), tt.src)
			if o.Status != CompileError {
				t.Fatalf("status = %v, want compile error", o)
			}
			if !tt.check(o.Err) {
				t.Errorf("err = %v", o.Err)
			}
			if out != "" {
				t.Errorf("output = %q, want none", out)
			}
		})
	}
}

func TestRunFault(t *testing.T) {
	o, out := run(t, New(vm.DefaultOptions()), `
- var: {name: z, init: 0}
- println: ["before"]
- println: [{binary: {op: "/", left: 1, right: {load: z}}}]
`)
	if o.Status != RuntimeFault {
		t.Fatalf("status = %v, want runtime fault", o)
	}
	f, ok := o.Fault()
	if !ok || f.Kind != vm.DivisionByZero {
		t.Errorf("fault = %v, want division by zero", o.Err)
	}
	// Output written before the fault is kept.
	if out != "before\n" {
		t.Errorf("output = %q, want %q", out, "before\n")
	}
}

func TestRunOptions(t *testing.T) {
	opts := vm.DefaultOptions()
	opts.MaxFrames = 4
	opts.FloatPrecision = 1
	e := New(opts)

	o, out := run(t, e, `- println: [{double: 2.75}]`)
	if o.Status != Ok || out != "2.8\n" {
		t.Errorf("Run = %v, %q, want ok, %q", o, out, "2.8\n")
	}

	o, _ = run(t, e, `
- func:
    name: down
    params: [{name: n, type: int}]
    body:
      - expr: {call: {name: down, args: [{load: n}]}}
- expr: {call: {name: down, args: [1]}}
`)
	if f, ok := o.Fault(); !ok || f.Kind != vm.StackOverflow {
		t.Errorf("Run = %v, want stack overflow", o)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	o := New(vm.DefaultOptions()).Run(ctx, []byte(hello), &out)
	if o.Status != RuntimeFault || !errors.Is(o.Err, vm.Cancelled) {
		t.Errorf("Run = %v, want cancelled", o)
	}
}

func TestRunCached(t *testing.T) {
	store, err := image.OpenStore(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	e := New(vm.DefaultOptions())
	e.Cache = store

	for i := 0; i < 2; i++ {
		o, out := run(t, e, hello)
		if o.Status != Ok || out != "n*7 = 42\n" {
			t.Fatalf("run %d = %v, %q", i, o, out)
		}
	}
	if n, err := store.Len(); err != nil || n != 1 {
		t.Errorf("cached images = %d, %v, want 1", n, err)
	}

	// A corrupt entry is replaced by a fresh compile.
	key := image.Key([]byte(hello))
	if err := store.Put(key, []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	if o, out := run(t, e, hello); o.Status != Ok || out != "n*7 = 42\n" {
		t.Fatalf("run after corruption = %v, %q", o, out)
	}
	data, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := image.Decode(data, vm.BuiltinRegistry()); err != nil {
		t.Errorf("cache entry not rewritten: %v", err)
	}

	// Compile errors are not cached.
	if o, _ := run(t, e, "- loop: []\n"); o.Status != CompileError {
		t.Errorf("status = %v, want compile error", o)
	}
	if n, _ := store.Len(); n != 1 {
		t.Errorf("cached images = %d, want 1", n)
	}
}

func TestRunImage(t *testing.T) {
	e := New(vm.DefaultOptions())
	prog, err := e.Compile([]byte(hello))
	if err != nil {
		t.Fatal(err)
	}
	data, err := image.Encode(prog)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if o := e.RunImage(context.Background(), data, &out); o.Status != Ok {
		t.Fatalf("RunImage = %v", o)
	}
	if out.String() != "n*7 = 42\n" {
		t.Errorf("output = %q", out.String())
	}

	o := e.RunImage(context.Background(), []byte{0xa0}, &out)
	if o.Status != CompileError || !errors.Is(o.Err, image.ErrBadMagic) {
		t.Errorf("RunImage(empty map) = %v, want bad magic", o)
	}
}

func TestStatusString(t *testing.T) {
	if RuntimeFault.String() != "runtime fault" {
		t.Errorf("RuntimeFault = %q", RuntimeFault.String())
	}
	if Status(9).String() != "status(9)" {
		t.Errorf("Status(9) = %q", Status(9).String())
	}
}
