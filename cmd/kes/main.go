// Kestrel CLI - compile and run Kestrel syntax-tree documents
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kestrel/compiler"
	"github.com/chazu/kestrel/engine"
	"github.com/chazu/kestrel/image"
	"github.com/chazu/kestrel/manifest"
	"github.com/chazu/kestrel/vm"
)

// Exit codes.
const (
	exitOK           = 0
	exitCompileError = 1
	exitRuntimeFault = 2
	exitUsage        = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(stderr io.Writer) {
	fmt.Fprintf(stderr, "Usage: kes <command> [options] <file>\n\n")
	fmt.Fprintf(stderr, "Commands:\n")
	fmt.Fprintf(stderr, "  run   <doc.kes.yaml>   compile and run a syntax-tree document\n")
	fmt.Fprintf(stderr, "  build <doc.kes.yaml>   compile a document to a program image\n")
	fmt.Fprintf(stderr, "  exec  <prog.kbc>       run a program image\n")
	fmt.Fprintf(stderr, "  dis   <file>           disassemble a document or image\n")
	fmt.Fprintf(stderr, "\nRun 'kes <command> -h' for command options.\n")
}

// run is main without the process exit, so it can be tested.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet("kes "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Int("v", -1, "Log verbosity (overrides the manifest)")
	configDir := fs.String("C", ".", "Directory to search for kestrel.toml")
	noCache := fs.Bool("no-cache", false, "Do not use the image cache")
	trace := fs.Bool("trace", false, "Log every call and return")
	output := fs.String("o", "", "Output file for build (default: input with .kbc extension)")
	maxFrames := fs.Int("max-frames", 0, "Call depth bound (overrides the manifest)")

	switch cmd {
	case "run", "build", "exec", "dis":
	case "-h", "-help", "--help", "help":
		usage(stderr)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		usage(stderr)
		return exitUsage
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "kes %s: expected one file argument\n", cmd)
		return exitUsage
	}
	path := fs.Arg(0)

	m, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if m == nil {
		m = manifest.Default()
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	commonlog.Configure(verbosity, nil)

	opts := m.Options()
	opts.Trace = *trace
	if *maxFrames > 0 {
		opts.MaxFrames = *maxFrames
	}
	eng := engine.New(opts)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "run":
		if m.Cache.Enabled && !*noCache {
			store, err := openCache(m)
			if err != nil {
				fmt.Fprintf(stderr, "Warning: image cache disabled: %v\n", err)
			} else {
				defer store.Close()
				eng.Cache = store
			}
		}
		return report(eng.Run(ctx, data, stdout), stderr)

	case "exec":
		return report(eng.RunImage(ctx, data, stdout), stderr)

	case "build":
		prog, err := eng.Compile(data)
		if err != nil {
			return report(engine.Outcome{Status: engine.CompileError, Err: err}, stderr)
		}
		encoded, err := image.Encode(prog)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		out := *output
		if out == "" {
			out = imagePath(path)
		}
		if err := os.WriteFile(out, encoded, 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		return exitOK

	case "dis":
		prog, err := loadAny(eng, data)
		if err != nil {
			return report(engine.Outcome{Status: engine.CompileError, Err: err}, stderr)
		}
		fmt.Fprint(stdout, prog.Disassemble())
		return exitOK
	}
	return exitUsage
}

func openCache(m *manifest.Manifest) (*image.Store, error) {
	p := m.CachePath()
	if p == "" {
		var err error
		if p, err = image.DefaultStorePath(); err != nil {
			return nil, err
		}
	}
	return image.OpenStore(p)
}

// loadAny accepts either an encoded image or a syntax-tree document.
func loadAny(eng *engine.Engine, data []byte) (*vm.Program, error) {
	if img, err := image.Unmarshal(data); err == nil {
		return img.Program(eng.Natives)
	}
	return eng.Compile(data)
}

func imagePath(src string) string {
	for _, ext := range []string{".kes.yaml", ".kes.yml", ".yaml", ".yml"} {
		if strings.HasSuffix(src, ext) {
			return strings.TrimSuffix(src, ext) + ".kbc"
		}
	}
	return src + ".kbc"
}

// report prints a failed outcome and maps it to an exit code.
func report(o engine.Outcome, stderr io.Writer) int {
	switch o.Status {
	case engine.Ok:
		return exitOK
	case engine.CompileError:
		var list compiler.ErrorList
		if errors.As(o.Err, &list) {
			for _, e := range list {
				fmt.Fprintf(stderr, "syntax error: %v\n", e)
			}
		} else {
			fmt.Fprintf(stderr, "compile error: %v\n", o.Err)
		}
		return exitCompileError
	default:
		if f, ok := o.Fault(); ok {
			fmt.Fprintf(stderr, "runtime fault: %s in %s#%d at %04d\n", f.Kind, f.Name, f.Function, f.Offset)
			if f.Detail != "" {
				fmt.Fprintf(stderr, "  %s\n", f.Detail)
			}
		} else {
			fmt.Fprintf(stderr, "runtime fault: %v\n", o.Err)
		}
		return exitRuntimeFault
	}
}
