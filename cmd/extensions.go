package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
)

var extensionsCmd = &cobra.Command{
	Use:     "extensions",
	Aliases: []string{"ext", "l"},
	Short:   "List the available extensions",
	Long: `List the built-in data sources and the extensions contributed by the
configured libraries, with the kind each one validates as.

Examples:
  searchparts extensions                        # Table of every extension
  searchparts extensions list -k HandlebarsHelper
  searchparts extensions -f json                # Output as JSON`,
	RunE: runExtensions,
}

var extensionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available extensions",
	Args:  cobra.NoArgs,
	RunE:  runExtensions,
}

var (
	extensionsKind   string
	extensionsFormat string
)

func init() {
	rootCmd.AddCommand(extensionsCmd)
	extensionsCmd.AddCommand(extensionsListCmd)

	extensionsCmd.PersistentFlags().StringVarP(&extensionsKind, "kind", "k", "", "only list extensions of this kind")
	extensionsCmd.PersistentFlags().StringVarP(&extensionsFormat, "format", "f", "table", "Output format (table, json, yaml)")
}

func runExtensions(cmd *cobra.Command, args []string) error {
	var kind extension.Kind
	if extensionsKind != "" {
		k, ok := extension.ParseKind(extensionsKind)
		if !ok {
			return fmt.Errorf("unknown extension kind: %s", extensionsKind)
		}
		kind = k
	}
	format := strings.ToLower(extensionsFormat)
	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", extensionsFormat)
	}

	a, err := loadApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	descs := a.Catalog(kind)
	if kind != "" {
		for i := range descs {
			descs[i].Kind = kind
		}
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return outputExtensionsJSON(out, descs)
	case "yaml":
		return yaml.NewEncoder(out).Encode(descs)
	default:
		return outputExtensionsTable(out, descs)
	}
}

func outputExtensionsJSON(w io.Writer, descs []extension.Descriptor) error {
	if descs == nil {
		descs = []extension.Descriptor{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(descs)
}

func outputExtensionsTable(w io.Writer, descs []extension.Descriptor) error {
	if len(descs) == 0 {
		_, err := fmt.Fprintln(w, "No extensions found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDISPLAY NAME\tDESCRIPTION")
	for _, d := range descs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Kind, d.DisplayName, d.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal: %d extensions\n", len(descs))
	return err
}
