package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/cildec/decompiler"
	"github.com/deepnoodle-ai/cildec/il"
)

type methodOutput struct {
	Method     string   `json:"method"`
	ID         string   `json:"id,omitempty"`
	IsIterator bool     `json:"isIterator"`
	IsAsync    bool     `json:"isAsync"`
	Names      []string `json:"names,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Tree       string   `json:"tree,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func newDecompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompile FILE",
		Short: "Decompile the methods of a JSON method file",
		Args:  cobra.ExactArgs(1),
		RunE:  decompileHandler,
	}
	cmd.Flags().StringSliceP("method", "m", nil, "Full name of a method to decompile")
	cmd.Flags().Bool("keep-going", false, "Exit successfully even if some methods failed")
	return cmd
}

func decompileHandler(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	mod, err := loadModule(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	names, _ := cmd.Flags().GetStringSlice("method")
	methods, err := selectMethods(mod, names)
	if err != nil {
		return err
	}
	opts, err := getDecompilerOptions()
	if err != nil {
		return err
	}
	opts = append(opts, decompiler.WithBodyProvider(mod))
	results, err := decompiler.DecompileMethods(cmd.Context(), methods, opts...)
	if err != nil {
		return err
	}

	outputs := make([]methodOutput, len(results))
	for i, r := range results {
		out := methodOutput{Method: methods[i].FullName()}
		if r.Err != nil {
			out.Error = r.Err.Error()
		} else {
			out.ID = r.ID.String()
			out.IsIterator = r.IsIterator
			out.IsAsync = r.IsAsync
			out.Names = r.Names
			out.Warnings = r.Warnings
			out.Tree = il.Format(r.Function)
		}
		outputs[i] = out
	}
	w := cmd.OutOrStdout()
	if format == "json" {
		if err := writeJSON(w, outputs); err != nil {
			return err
		}
	} else {
		writeText(w, outputs)
	}
	if keepGoing, _ := cmd.Flags().GetBool("keep-going"); !keepGoing {
		return results.Err()
	}
	return nil
}

func writeText(w io.Writer, outputs []methodOutput) {
	for i, out := range outputs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "// %s\n", out.Method)
		if out.Error != "" {
			fmt.Fprintf(w, "// %s\n", red(out.Error))
			continue
		}
		for _, warning := range out.Warnings {
			fmt.Fprintf(w, "// warning: %s\n", warning)
		}
		fmt.Fprint(w, out.Tree)
		if len(out.Tree) > 0 && out.Tree[len(out.Tree)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}
