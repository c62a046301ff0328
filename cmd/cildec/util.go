package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/typesys"
)

func fatal(msg interface{}) {
	var s string
	switch msg := msg.(type) {
	case string:
		s = msg
	case error:
		s = msg.Error()
	default:
		s = fmt.Sprintf("%v", msg)
	}
	fmt.Fprintf(os.Stderr, "%s\n", red(s))
	os.Exit(1)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// loadModule reads a JSON method file. A path of "-" reads stdin.
func loadModule(in io.Reader, path string) (*bytecode.Module, error) {
	if path == "-" {
		return bytecode.LoadModule(in)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mod, err := bytecode.LoadModule(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

// selectMethods returns the methods of mod that have bodies, restricted to
// the given full names when any are given.
func selectMethods(mod *bytecode.Module, names []string) ([]*typesys.Method, error) {
	if len(names) == 0 {
		var methods []*typesys.Method
		for _, m := range mod.Methods() {
			if _, ok := mod.MethodBody(m); ok {
				methods = append(methods, m)
			}
		}
		return methods, nil
	}
	methods := make([]*typesys.Method, 0, len(names))
	for _, name := range names {
		m, ok := mod.FindMethod(name)
		if !ok {
			return nil, fmt.Errorf("method %q not found", name)
		}
		methods = append(methods, m)
	}
	return methods, nil
}

var outputFormatsCompletion = []string{"json", "text"}

func outputFormat() (string, error) {
	format := strings.ToLower(viper.GetString("output"))
	switch format {
	case "", "text", "json":
		return format, nil
	}
	return "", fmt.Errorf("unknown output format: %s", format)
}

func writeJSON(w io.Writer, v any) error {
	var data []byte
	var err error
	if viper.GetBool("no-color") || !isStdout(w) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = prettyjson.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func isStdout(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && f == os.Stdout && isTerminal(f)
}
