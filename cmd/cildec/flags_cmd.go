package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/cildec/decompiler"
)

type flagsOutput struct {
	Method string `json:"method"`
	decompiler.Flags
	Error string `json:"error,omitempty"`
}

func newFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags FILE",
		Short: "Report which methods are iterators or async methods",
		Args:  cobra.ExactArgs(1),
		RunE:  flagsHandler,
	}
	cmd.Flags().StringSliceP("method", "m", nil, "Full name of a method to inspect")
	return cmd
}

func flagsHandler(cmd *cobra.Command, args []string) error {
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

	outputs := make([]flagsOutput, 0, len(methods))
	for _, m := range methods {
		out := flagsOutput{Method: m.FullName()}
		body, _ := mod.MethodBody(m)
		flags, err := decompiler.DetectFlags(cmd.Context(), body, opts...)
		if err != nil {
			if cmd.Context().Err() != nil {
				return err
			}
			out.Error = err.Error()
		}
		out.Flags = flags
		outputs = append(outputs, out)
	}

	w := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(w, outputs)
	}
	for _, out := range outputs {
		switch {
		case out.Error != "":
			fmt.Fprintf(w, "%s\t%s\n", out.Method, red(out.Error))
		case out.IsIterator:
			fmt.Fprintf(w, "%s\titerator\n", out.Method)
		case out.IsAsync:
			fmt.Fprintf(w, "%s\tasync\n", out.Method)
		default:
			fmt.Fprintf(w, "%s\t-\n", out.Method)
		}
	}
	return nil
}
