package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/server"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/templating"
)

var renderCmd = &cobra.Command{
	Use:     "render <template>",
	Aliases: []string{"r"},
	Short:   "Render a template file to sanitized HTML",
	Long: `Render a template file with a JSON context and print the sanitized,
style-scoped HTML. Markup inside the element with id "template" is
used when present, otherwise the whole file.

Examples:
  searchparts render cards.html                     # Render with empty sample data
  searchparts render cards.html -d cards.json       # Render with a context file
  searchparts render cards.html -q "budget"         # Render live results of the data source
  searchparts render cards.html -i web-part-1 -o out.html`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderData     string
	renderInstance string
	renderOutput   string
	renderQuery    string
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderData, "data", "d", "", "JSON file with the template context")
	renderCmd.Flags().StringVarP(&renderInstance, "instance", "i", "preview", "instance id used to scope styles")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "write the HTML to a file instead of stdout")
	renderCmd.Flags().StringVarP(&renderQuery, "query", "q", "", "render the first page of results the configured data source returns for this query")
	renderCmd.MarkFlagsMutuallyExclusive("data", "query")
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	var data any = server.DefaultSampleData()
	if renderData != "" {
		raw, err := os.ReadFile(renderData)
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("invalid data file %s: %w", renderData, err)
		}
	}

	a, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	if renderQuery != "" {
		if a.Search == nil {
			return fmt.Errorf("no data source configured (set search.datasource)")
		}
		results, err := a.Search.Search(ctx, extension.SearchParams{QueryText: renderQuery, PageNumber: 1})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		data = server.SearchContext(results)
	}

	res, err := a.Surfaces.Render(ctx, renderInstance, data, templating.TemplateMarkup(string(content)))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", args[0], err)
	}

	if renderOutput != "" {
		return os.WriteFile(renderOutput, []byte(res.Output+"\n"), 0o644)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	return err
}
