package image

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/vm"
)

const source = `
- native: {name: sqrt, params: [{name: x, type: double}], returns: double}
- var: {name: base, init: 2}
- func:
    name: scale
    params: [{name: n, type: int}]
    returns: int
    body:
      - return: {binary: {op: "*", left: {load: n}, right: {load: base}}}
- println: [{call: {name: scale, args: [21]}}, " ", {call: {name: sqrt, args: [2.25]}}, " done"]
`

func compileSource(t *testing.T) *vm.Program {
	t.Helper()
	doc, err := compiler.ParseDocument(source)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := compiler.Compile(doc, vm.BuiltinRegistry())
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

func run(t *testing.T, prog *vm.Program) string {
	t.Helper()
	var out bytes.Buffer
	opts := vm.DefaultOptions()
	opts.Out = &out
	if err := vm.NewInterpreter(prog, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestImageRoundTrip(t *testing.T) {
	prog := compileSource(t)
	data, err := Encode(prog)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	loaded, err := Decode(data, vm.BuiltinRegistry())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got, want := loaded.Disassemble(), prog.Disassemble(); got != want {
		t.Errorf("disassembly differs after round trip:\n%s\nwant:\n%s", got, want)
	}
	if got, want := run(t, loaded), run(t, prog); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	for i, f := range prog.Functions.All() {
		g, _ := loaded.Functions.Lookup(i)
		if !slices.Equal(g.Locals, f.Locals) {
			t.Errorf("%s locals = %v, want %v", f, g.Locals, f.Locals)
		}
	}
}

func TestImageBuildID(t *testing.T) {
	prog := compileSource(t)
	a, b := FromProgram(prog), FromProgram(prog)
	if a.BuildID == b.BuildID {
		t.Error("two images share a build id")
	}
	data, _ := Marshal(a)
	img, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if img.BuildID != a.BuildID {
		t.Errorf("BuildID = %s, want %s", img.BuildID, a.BuildID)
	}
}

func TestImageNativesReresolved(t *testing.T) {
	data, err := Encode(compileSource(t))
	if err != nil {
		t.Fatal(err)
	}
	prog, err := Decode(data, vm.NewRegistry())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	n, _ := prog.Natives.Lookup(0)
	if n.Fn != nil {
		t.Error("native resolved against an empty registry")
	}
	var out bytes.Buffer
	opts := vm.DefaultOptions()
	opts.Out = &out
	err = vm.NewInterpreter(prog, opts).Run(context.Background())
	if !errors.Is(err, vm.NativeSymbolNotFound) {
		t.Errorf("Run err = %v, want NativeSymbolNotFound", err)
	}
}

func TestImageBadMagic(t *testing.T) {
	img := FromProgram(compileSource(t))
	img.Magic = "ELF"
	data, _ := Marshal(img)
	if _, err := Decode(data, nil); !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}

	img.Magic = Magic
	img.Version = 99
	data, _ = Marshal(img)
	if _, err := Decode(data, nil); !errors.Is(err, ErrVersion) {
		t.Errorf("err = %v, want ErrVersion", err)
	}

	if _, err := Decode([]byte("not cbor at all"), nil); err == nil {
		t.Error("garbage decoded without error")
	}
}

func TestImageValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(img *Image)
	}{
		{"unknown opcode", func(img *Image) {
			img.Functions[0].Code = append([]byte{0xEE}, img.Functions[0].Code...)
		}},
		{"bad call", func(img *Image) {
			b := vm.NewBytecodeBuilder()
			b.EmitUint16(vm.OpCall, 40)
			b.Emit(vm.OpHalt)
			img.Functions[0].Code, _ = b.Finish()
		}},
		{"bad constant", func(img *Image) {
			b := vm.NewBytecodeBuilder()
			b.EmitUint16(vm.OpPushString, 500)
			b.Emit(vm.OpHalt)
			img.Functions[0].Code, _ = b.Finish()
		}},
		{"bad slot", func(img *Image) {
			img.Functions[1].NumLocals = 1
			b := vm.NewBytecodeBuilder()
			b.EmitUint16(vm.OpLoadLocal, 3)
			b.Emit(vm.OpReturn)
			img.Functions[1].Code, _ = b.Finish()
		}},
		{"jump outside", func(img *Image) {
			img.Functions[0].Code = []byte{byte(vm.OpJump), 0x00, 0x10}
		}},
		{"bad owner", func(img *Image) {
			img.Functions[1].Owner = 7
		}},
		{"slot count", func(img *Image) {
			img.Functions[0].NumLocals += 2
		}},
		{"void local", func(img *Image) {
			img.Functions[0].Locals[0] = vm.TypeVoid
		}},
		{"string local without empty constant", func(img *Image) {
			img.Constants = []string{"x"}
			img.Functions[0].Code = []byte{byte(vm.OpHalt)}
			img.Functions[1].Locals = []vm.Type{vm.TypeString}
			img.Functions[1].NumLocals = 2
		}},
		{"void parameter", func(img *Image) {
			img.Functions[1].Params = []vm.Type{vm.TypeVoid}
		}},
		{"duplicate constant", func(img *Image) {
			img.Constants = append(img.Constants, img.Constants[0])
		}},
		{"no functions", func(img *Image) {
			img.Functions = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := FromProgram(compileSource(t))
			tt.mutate(img)
			data, err := Marshal(img)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := Decode(data, vm.BuiltinRegistry()); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestStore(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "cache", "images.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	key := Key([]byte(source))
	if len(key) != 32 {
		t.Errorf("Key length = %d, want 32 hex digits", len(key))
	}
	if Key([]byte(source)) != key {
		t.Error("Key is not deterministic")
	}
	if Key([]byte(source+" ")) == key {
		t.Error("different sources share a key")
	}

	if _, err := s.Get(key); !errors.Is(err, ErrNotCached) {
		t.Errorf("Get on empty store err = %v, want ErrNotCached", err)
	}

	data, _ := Encode(compileSource(t))
	if err := s.Put(key, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(key, data); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Get returned different bytes")
	}
	if n, err := s.Len(); err != nil || n != 1 {
		t.Errorf("Len = %d, %v, want 1", n, err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(key); !errors.Is(err, ErrNotCached) {
		t.Errorf("Get after Delete err = %v, want ErrNotCached", err)
	}
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if got, err := s.Get("k"); err != nil || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Get after reopen = %v, %v", got, err)
	}
	if s.Path() != path {
		t.Errorf("Path = %q, want %q", s.Path(), path)
	}
}
