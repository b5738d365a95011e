// Package cmd provides the command-line interface for searchparts.
//
// Configuration System:
//
//	The CLI reads its configuration from several sources with clear precedence:
//	1. Command-line flags (--config, --port, etc.) - highest priority
//	2. SEARCHPARTS_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (SEARCHPARTS_SERVER_PORT, etc.)
//	4. Configuration files (.searchparts.yml) - lowest priority
//
// Environment Variables:
//
//	SEARCHPARTS_CONFIG_FILE: Path to custom configuration file
//	SEARCHPARTS_TEMPLATES_DIR: Directory holding the result templates
//	SEARCHPARTS_EXTENSIBILITY_LIBRARIES: Library ids to load
//	And more following the SEARCHPARTS_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/app"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "searchparts",
	Short: "Render and preview search results templates",
	Long: `searchparts renders Handlebars search results templates the way the
search results web part does: extensibility libraries contribute helpers,
web components and data sources, the output is sanitized and scoped, and
a preview server re-renders templates as they change on disk.

Quick Start:
  searchparts render cards.html --data cards.json   Render one template
  searchparts serve                                 Start the preview server
  searchparts extensions                            List loaded extensions
  searchparts validate cards.html                   Check template paths`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .searchparts.yml, can also use SEARCHPARTS_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("templates", "t", "", "templates directory")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("templates.dir", rootCmd.PersistentFlags().Lookup("templates"))
}

// initConfig picks the configuration file: the --config flag, then
// SEARCHPARTS_CONFIG_FILE, then .searchparts.yml in the working directory.
// Every key can also be set through a SEARCHPARTS_ environment variable.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SEARCHPARTS_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".searchparts")
	}

	viper.SetEnvPrefix("SEARCHPARTS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or unreadable file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadApp loads the configuration and builds the services every command
// shares. The caller closes the app.
func loadApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	a, err := app.New(ctx, cfg, app.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

func closeApp(cmd *cobra.Command, a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: error during shutdown: %v\n", err)
	}
}
