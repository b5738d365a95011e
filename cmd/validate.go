package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:     "validate [template...]",
	Aliases: []string{"v"},
	Short:   "Validate the configuration and template paths",
	Long: `Load the configuration and the configured libraries, then check that
each template path has an allowed extension and can be fetched. Local
paths resolve against the templates directory; http(s) URLs are fetched.

Examples:
  searchparts validate                                  # Check configuration only
  searchparts validate cards.html                       # Check a local template
  searchparts validate https://contoso.com/tpl.html     # Check a remote template`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK (%d libraries loaded)\n", len(a.Libraries))

	invalid := 0
	for _, path := range args {
		if msg := a.Engine.IsValidTemplateFile(ctx, path); msg != "" {
			invalid++
			fmt.Fprintf(out, "✗ %s: %s\n", path, msg)
			continue
		}
		fmt.Fprintf(out, "✓ %s\n", path)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d templates are invalid", invalid, len(args))
	}
	return nil
}
