package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/web"
	"github.com/rendis/actuator/pkg/mcp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// appFunc is a command body run with a fully wired app.
type appFunc func(ctx context.Context, a *app, cmd *cobra.Command) error

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "actuator",
		Short:         "Actuator serves Go functions as validated, authorized actions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "settings file (.json or .yaml); default ~/.actuator/settings.{yaml,json}")

	withApp := func(run appFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, a, cmd)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve actions over HTTP with the scheduler and pub/sub bindings",
			RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command) error {
				return a.serve(ctx)
			}),
		},
		&cobra.Command{
			Use:   "actions",
			Short: "Print the metadata document of every registered action",
			RunE: withApp(func(_ context.Context, a *app, cmd *cobra.Command) error {
				return printActions(cmd, a)
			}),
		},
		newMCPCmd(withApp),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func newMCPCmd(withApp func(appFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve actions as MCP tools over stdio, or streamable HTTP with --http",
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command) error {
			s, err := mcp.NewServer(mcp.ServerDeps{
				Registry: a.registry,
				Chain:    a.chain(),
				Invoker:  a.invoker,
				Logger:   a.logger,
				Token:    a.cfg.MCPToken,
				Version:  version,
			})
			if err != nil {
				return err
			}
			if httpAddr != "" {
				return web.NewServer(httpAddr, s.HTTPHandler(), "", nil, a.logger).ListenAndServe(ctx)
			}
			return s.Serve(ctx)
		}),
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "listen address for the streamable HTTP transport")
	return cmd
}

func printActions(cmd *cobra.Command, a *app) error {
	descs := make([]*dispatch.ActionDescription, 0, a.registry.Count())
	for _, m := range a.registry.List() {
		d, err := dispatch.Describe(m)
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}
	data, err := jsoncodec.MarshalIndent(descs, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
