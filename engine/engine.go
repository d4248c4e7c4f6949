// Package engine runs Kestrel programs end to end: decode the syntax-tree
// document, compile (or fetch a cached image), execute, and report the
// outcome.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/image"
	"github.com/chazu/kestrel/vm"
)

// Status is the terminal state of a run.
type Status int

const (
	Ok Status = iota
	CompileError
	RuntimeFault
)

var strStatus = []string{
	"ok",
	"compile error",
	"runtime fault",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(strStatus) {
		return strStatus[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome reports how a run ended. Err is a *compiler.Error or
// compiler.ErrorList for CompileError and a *vm.Fault for RuntimeFault.
type Outcome struct {
	Status Status
	Err    error
}

// Fault returns the runtime fault, if any.
func (o Outcome) Fault() (*vm.Fault, bool) {
	var f *vm.Fault
	if o.Status == RuntimeFault && errors.As(o.Err, &f) {
		return f, true
	}
	return nil, false
}

func (o Outcome) String() string {
	if o.Err == nil {
		return o.Status.String()
	}
	return o.Status.String() + ": " + o.Err.Error()
}

// Engine holds what a run needs besides the program. Cache may be nil.
type Engine struct {
	Natives vm.NativeResolver
	Options vm.Options
	Cache   *image.Store

	log commonlog.Logger
}

// New creates an engine with the builtin natives.
func New(opts vm.Options) *Engine {
	return &Engine{
		Natives: vm.BuiltinRegistry(),
		Options: opts,
		log:     commonlog.GetLogger("kestrel.engine"),
	}
}

// Compile decodes and compiles a syntax-tree document. Errors are compile
// errors: an ErrorList from the decoder or a *compiler.Error.
func (e *Engine) Compile(source []byte) (*vm.Program, error) {
	prog, err := compiler.DecodeDocument(bytes.NewReader(source))
	if err != nil {
		return nil, err
	}
	return compiler.Compile(prog, e.Natives)
}

// Load returns the program for source, using the cache when configured.
// Cache failures are logged and fall back to compiling.
func (e *Engine) Load(source []byte) (*vm.Program, error) {
	if e.Cache == nil {
		return e.Compile(source)
	}
	key := image.Key(source)
	data, err := e.Cache.Get(key)
	switch {
	case err == nil:
		prog, err := image.Decode(data, e.Natives)
		if err == nil {
			e.log.Debugf("using cached image %s", key)
			return prog, nil
		}
		e.log.Warningf("discarding cached image %s: %v", key, err)
	case !errors.Is(err, image.ErrNotCached):
		e.log.Warningf("image cache: %v", err)
	}

	prog, err := e.Compile(source)
	if err != nil {
		return nil, err
	}
	if data, err := image.Encode(prog); err != nil {
		e.log.Warningf("encoding image: %v", err)
	} else if err := e.Cache.Put(key, data); err != nil {
		e.log.Warningf("image cache: %v", err)
	}
	return prog, nil
}

// Execute runs a compiled program, printing to out.
func (e *Engine) Execute(ctx context.Context, prog *vm.Program, out io.Writer) Outcome {
	opts := e.Options
	opts.Out = out
	interp := vm.NewInterpreter(prog, opts)
	if err := interp.Run(ctx); err != nil {
		e.log.Debugf("run faulted after %d steps: %v", interp.Steps(), err)
		return Outcome{Status: RuntimeFault, Err: err}
	}
	e.log.Debugf("run finished after %d steps", interp.Steps())
	return Outcome{Status: Ok}
}

// Run compiles (or loads) source and executes it.
func (e *Engine) Run(ctx context.Context, source []byte, out io.Writer) Outcome {
	prog, err := e.Load(source)
	if err != nil {
		return Outcome{Status: CompileError, Err: err}
	}
	return e.Execute(ctx, prog, out)
}

// RunImage decodes an encoded image and executes it. A malformed image is
// reported as a compile error.
func (e *Engine) RunImage(ctx context.Context, data []byte, out io.Writer) Outcome {
	prog, err := image.Decode(data, e.Natives)
	if err != nil {
		return Outcome{Status: CompileError, Err: err}
	}
	return e.Execute(ctx, prog, out)
}
