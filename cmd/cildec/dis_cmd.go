package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/cildec/dis"
)

func newDisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dis FILE",
		Short: "List the instructions of the methods of a JSON method file",
		Args:  cobra.ExactArgs(1),
		RunE:  disHandler,
	}
	cmd.Flags().StringSliceP("method", "m", nil, "Full name of a method to list")
	return cmd
}

func disHandler(cmd *cobra.Command, args []string) error {
	mod, err := loadModule(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	names, _ := cmd.Flags().GetStringSlice("method")
	methods, err := selectMethods(mod, names)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for i, m := range methods {
		body, ok := mod.MethodBody(m)
		if !ok {
			return fmt.Errorf("method %q has no body", m.FullName())
		}
		instructions, err := dis.Disassemble(body)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, m.String())
		dis.Print(instructions, w)
		dis.PrintHandlers(dis.Handlers(body), w)
	}
	return nil
}
