package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wptspec/internal/labels"
	"wptspec/internal/productspec"
)

var sortSpecs bool

// parseCmd shows the parts of each spec
var parseCmd = &cobra.Command{
	Use:   "parse [spec...]",
	Short: "Parse product specs and show their parts",
	Long: `Parses each spec and prints its browser, version, labels, revision and the
semantic fields its labels imply.

Example:
  wptspec parse chrome-69[experimental,azure]@abc1234567`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

// formatCmd normalizes specs
var formatCmd = &cobra.Command{
	Use:   "format [spec...]",
	Short: "Print the canonical form of product specs",
	Long: `Prints the canonical form of each spec, one per line. Duplicate labels are
dropped and an explicit @latest is omitted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFormat,
}

// fieldsCmd maps labels to semantic fields
var fieldsCmd = &cobra.Command{
	Use:   "fields [label...]",
	Short: "Show the semantic fields implied by labels",
	RunE:  runFields,
}

// setLabelCmd changes one semantic field of a spec
var setLabelCmd = &cobra.Command{
	Use:   "set-label [spec] [field] [value]",
	Short: "Set a semantic field (channel, source) on a spec",
	Long: `Replaces the spec's label for the given field with value. A value of "any"
removes the field's label.

Example:
  wptspec set-label chrome[stable,azure] channel experimental
  # chrome[azure,experimental]`,
	Args: cobra.ExactArgs(3),
	RunE: runSetLabel,
}

func init() {
	formatCmd.Flags().BoolVar(&sortSpecs, "sort", false, "Sort specs by canonical form")
}

type parsedSpec struct {
	Spec     string            `json:"spec"`
	Browser  string            `json:"browser_name"`
	Version  string            `json:"browser_version,omitempty"`
	Labels   []string          `json:"labels"`
	Revision string            `json:"revision"`
	Fields   map[string]string `json:"fields"`
}

func runParse(cmd *cobra.Command, args []string) error {
	catalog := cfg.LabelCatalog()
	specs, err := productspec.ParseAll(args...)
	if err != nil {
		return err
	}

	out := make([]parsedSpec, len(specs))
	for i, s := range specs {
		l := s.Labels
		if l == nil {
			l = []string{}
		}
		out[i] = parsedSpec{
			Spec:     s.String(),
			Browser:  s.BrowserName,
			Version:  s.BrowserVersion,
			Labels:   l,
			Revision: s.Revision,
			Fields:   labels.FieldsFromLabels(s.Labels, catalog.Groups()),
		}
		logger.Debug("parsed spec", zap.String("input", args[i]), zap.String("canonical", out[i].Spec))
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, out)
	}
	for i, p := range out {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "spec:     %s\n", p.Spec)
		fmt.Fprintf(w, "browser:  %s (%s)\n", p.Browser, catalog.DisplayName(p.Browser))
		if p.Version != "" {
			fmt.Fprintf(w, "version:  %s\n", p.Version)
		}
		if len(p.Labels) > 0 {
			fmt.Fprintf(w, "labels:   %s\n", catalog.DisplayLabels(p.Labels))
		}
		fmt.Fprintf(w, "revision: %s\n", p.Revision)
		for _, g := range catalog.Groups() {
			fmt.Fprintf(w, "%-9s %s\n", g.Field+":", p.Fields[g.Field])
		}
	}
	return nil
}

func runFormat(cmd *cobra.Command, args []string) error {
	specs, err := productspec.ParseAll(args...)
	if err != nil {
		return err
	}
	if sortSpecs {
		specs = specs.Sorted()
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), specs.Strings())
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(specs.Strings(), "\n"))
	return nil
}

func runFields(cmd *cobra.Command, args []string) error {
	catalog := cfg.LabelCatalog()
	fields := labels.FieldsFromLabels(args, catalog.Groups())
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), fields)
	}
	for _, g := range catalog.Groups() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", g.Field, fields[g.Field])
	}
	return nil
}

func runSetLabel(cmd *cobra.Command, args []string) error {
	spec, err := productspec.Parse(args[0])
	if err != nil {
		return err
	}
	field, value := args[1], args[2]

	group, ok := cfg.LabelCatalog().Group(field)
	if !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	if value != labels.Any && !group.Contains(value) {
		return fmt.Errorf("%q is not a %s value (want one of %s, or %s)",
			value, field, strings.Join(group.Values, ", "), labels.Any)
	}

	previous := labels.FieldsFromLabels(spec.Labels, []labels.Group{group})[field]
	if previous == labels.Any {
		previous = ""
	}
	updated, changed := labels.LabelsFromField(spec.Labels, group, value, previous)
	if changed {
		spec = spec.WithLabels(updated...)
	}
	logger.Debug("set label", zap.String("field", field), zap.String("value", value), zap.Bool("changed", changed))

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), spec)
	}
	fmt.Fprintln(cmd.OutOrStdout(), spec)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
