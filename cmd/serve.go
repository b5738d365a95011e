package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the preview server with live re-rendering",
	Long: `Start the preview server. Every template in the templates directory
gets a preview page rendered with the JSON file next to it as context.
With watching enabled, open previews re-render when a template or its
sample data changes.

Examples:
  searchparts serve                  # Serve on localhost:8085 and watch
  searchparts serve -p 9000          # Serve on another port
  searchparts serve --watch=false    # Serve without watching`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8085, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().BoolP("watch", "w", true, "Re-render previews when templates change")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("templates.watch", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	srv := a.Server()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s\n", a.Config.Templates.Dir, srv.Addr())

	g, ctx := errgroup.WithContext(ctx)
	if a.Config.Templates.Watch {
		g.Go(func() error {
			return a.Watch(ctx, srv.Reload)
		})
	}
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
