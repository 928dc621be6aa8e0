package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"wptspec/internal/productspec"
	"wptspec/internal/ui"
)

// buildCmd opens the interactive product builder
var buildCmd = &cobra.Command{
	Use:   "build [spec]",
	Short: "Build a product spec interactively",
	Long: `Opens a terminal form with fields for browser, version, channel and
source, plus the raw spec text. Editing any field updates the others. The
accepted spec is printed on exit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	var initial productspec.ProductSpec
	if len(args) == 1 {
		var err error
		if initial, err = productspec.Parse(args[0]); err != nil {
			return err
		}
	}

	spec, ok, err := ui.Run(contextOf(cmd), cfg.LabelCatalog(), initial)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cancelled")
	}
	fmt.Fprintln(cmd.OutOrStdout(), spec)
	return nil
}
