// spn - the command line entry point for compiling and running Sparkling
// programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/h2co3/sparkling/cache"
	"github.com/h2co3/sparkling/compiler"
	"github.com/h2co3/sparkling/manifest"
	"github.com/h2co3/sparkling/server"
	"github.com/h2co3/sparkling/stdlib"
	"github.com/h2co3/sparkling/vm"
	"github.com/h2co3/sparkling/vm/dist"

	_ "github.com/tliron/commonlog/simple"
)

// ImageExt is the file extension of compiled program images.
const ImageExt = ".spnc"

var log = commonlog.GetLogger("sparkling.spn")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options are the parsed command line flags.
type options struct {
	eval        string
	disassemble bool
	output      string
	raw         bool
	serve       bool
	port        int
	lsp         bool
	build       bool
	verbose     bool
	args        []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("spn", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.eval, "e", "", "Evaluate the given source text")
	fs.BoolVar(&opts.disassemble, "d", false, "Print the disassembly instead of running")
	fs.StringVar(&opts.output, "o", "", "Compile to an image file instead of running")
	fs.BoolVar(&opts.raw, "raw", false, "Write and read bare little-endian bytecode instead of CBOR images")
	fs.BoolVar(&opts.serve, "serve", false, "Start the Connect server (HTTP/JSON and gRPC)")
	fs.IntVar(&opts.port, "port", 0, "Server port (default from sparkling.toml, else 4567)")
	fs.BoolVar(&opts.lsp, "lsp", false, "Run the language server on stdio")
	fs.BoolVar(&opts.build, "build", false, "Compile the project entry to the image path in sparkling.toml")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: spn [options] [file [args...]]\n\n")
		fmt.Fprintf(stderr, "Compiles and runs a Sparkling program. Without a file, runs the entry\n")
		fmt.Fprintf(stderr, "of the nearest sparkling.toml.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  spn hello.spn              # Run a source file\n")
		fmt.Fprintf(stderr, "  spn -e 'return 6 * 7;'     # Evaluate a string; exit status 42\n")
		fmt.Fprintf(stderr, "  spn -d hello.spn           # Disassemble\n")
		fmt.Fprintf(stderr, "  spn -o hello.spnc hello.spn  # Build an image\n")
		fmt.Fprintf(stderr, "  spn hello.spnc             # Run an image\n")
		fmt.Fprintf(stderr, "  spn -build                 # Build the project image\n")
		fmt.Fprintf(stderr, "  spn --serve --port 8080    # Start the server\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.args = fs.Args()
	return opts, nil
}

// run executes the command line and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	verbosity := 0
	if opts.verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	cfg := vm.DefaultConfig()
	if m != nil {
		cfg = m.VMConfig()
	}

	switch {
	case opts.lsp:
		return runLSP(cfg, stderr)
	case opts.serve:
		return runServer(opts, m, cfg, stderr)
	}

	if opts.build {
		if m == nil {
			fmt.Fprintf(stderr, "Error: -build needs a %s\n", manifest.FileName)
			return 1
		}
		if opts.output == "" {
			opts.output = m.ImagePath()
		}
	}

	prog, err := loadProgram(opts, m)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.output != "" {
		if err := writeProgram(opts, m, prog); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if opts.verbose || opts.build {
			fmt.Fprintf(stdout, "Wrote %s (%d words)\n", opts.output, len(prog.Words))
		}
		return 0
	}

	if opts.disassemble {
		if err := vm.Disassemble(stdout, prog.Words); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	return execute(prog, cfg, programArgs(opts), stdout, stderr)
}

// programArgs are the positional arguments after the program file.
func programArgs(opts *options) []string {
	if opts.eval != "" {
		return opts.args
	}
	if len(opts.args) > 1 {
		return opts.args[1:]
	}
	return nil
}

// loadProgram returns the program selected by the command line: -e text,
// a source or image file, or the manifest's entry file.
func loadProgram(opts *options, m *manifest.Manifest) (*dist.Image, error) {
	if opts.eval != "" {
		return compileSource(m, "<eval>", opts.eval)
	}

	var path string
	switch {
	case len(opts.args) > 0:
		path = opts.args[0]
	case m != nil:
		entry, err := m.EntryPath()
		if err != nil {
			return nil, err
		}
		path = entry
	default:
		return nil, fmt.Errorf("no program given and no %s found", manifest.FileName)
	}

	if strings.HasSuffix(path, ImageExt) {
		return loadImage(opts, m, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return compileSource(m, filepath.Base(path), string(data))
}

// compileSource compiles through the project cache when it is enabled.
func compileSource(m *manifest.Manifest, name, source string) (*dist.Image, error) {
	compile := func(src string) ([]uint32, error) {
		unit, err := compiler.Compile(src)
		if err != nil {
			return nil, err
		}
		return unit.Words, nil
	}

	if m != nil && m.Cache.Enabled {
		c, err := cache.Open(m.CachePath())
		if err != nil {
			log.Warningf("cache disabled: %v", err)
		} else {
			defer c.Close()
			img, hit, err := c.Compile(name, source, compile)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			log.Debugf("%s: cache hit %t", name, hit)
			return img, nil
		}
	}

	words, err := compile(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return dist.NewImage(name, words, source)
}

// loadImage reads a compiled program and checks it against the project's
// capability policy.
func loadImage(opts *options, m *manifest.Manifest, path string) (*dist.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), ImageExt)
	var img *dist.Image
	if opts.raw {
		words, err := vm.ReadBytecode(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if img, err = dist.NewImage(name, words, ""); err != nil {
			return nil, err
		}
	} else {
		if img, err = dist.ReadImage(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if m != nil {
		if err := m.Policy().CheckImage(img); err != nil {
			return nil, err
		}
	}
	log.Debugf("loaded image %s: %d words, requires %v", path, len(img.Words), img.Requires)
	return img, nil
}

// writeProgram writes the program to opts.output.
func writeProgram(opts *options, m *manifest.Manifest, img *dist.Image) error {
	f, err := os.Create(opts.output)
	if err != nil {
		return err
	}
	if opts.raw {
		err = vm.WriteBytecode(f, img.Words)
	} else {
		out := *img
		if m == nil || !m.Image.IncludeSource {
			out.Source = ""
		}
		err = dist.WriteImage(f, &out)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// execute runs the program on a fresh VM. An integer result becomes the
// exit status; a runtime error is reported with its stack trace.
func execute(img *dist.Image, cfg vm.Config, args []string, stdout, stderr io.Writer) int {
	machine := vm.NewVMWithConfig(cfg)
	defer machine.Close()
	if err := stdlib.Load(machine, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	vals := make([]vm.Value, len(args))
	for i, a := range args {
		vals[i] = vm.NewString(a)
	}
	defer func() {
		for _, v := range vals {
			v.Release()
		}
	}()

	res, err := machine.Execute(img.Words, img.Name, vals...)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		for _, frame := range machine.StackTrace() {
			fmt.Fprintf(stderr, "\tin %s\n", frame.Function)
		}
		return 1
	}
	defer res.Release()

	if res.IsInt() {
		return int(res.AsInt())
	}
	return 0
}

func runServer(opts *options, m *manifest.Manifest, cfg vm.Config, stderr io.Writer) int {
	addr := ":4567"
	if m != nil {
		addr = m.Server.Addr
	}
	if opts.port != 0 {
		addr = fmt.Sprintf(":%d", opts.port)
	}

	reference := vm.NewVMWithConfig(cfg)
	if err := stdlib.Load(reference, io.Discard); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var srvOpts []server.ServerOption
	if m != nil {
		srvOpts = append(srvOpts, server.WithPolicy(m.Policy()))
		if m.Cache.Enabled {
			c, err := cache.Open(m.CachePath())
			if err != nil {
				fmt.Fprintf(stderr, "Error opening cache: %v\n", err)
				return 1
			}
			defer c.Close()
			srvOpts = append(srvOpts, server.WithCache(c))
		}
	}

	srv := server.New(reference, srvOpts...)
	defer srv.Stop()
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

func runLSP(cfg vm.Config, stderr io.Writer) int {
	reference := vm.NewVMWithConfig(cfg)
	if err := stdlib.Load(reference, io.Discard); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := server.NewLSP(reference).Run(); err != nil {
		fmt.Fprintf(stderr, "LSP error: %v\n", err)
		return 1
	}
	return 0
}
