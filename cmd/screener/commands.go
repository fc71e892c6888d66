package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"trading-screener/config"
	"trading-screener/internal/app"
	"trading-screener/internal/logger"
)

type globalFlags struct {
	config string
	env    []string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "screener",
		Short:         "IDX stock signal screener and trade tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "config.yaml", "configuration file")
	root.PersistentFlags().StringSliceVar(&g.env, "env", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newRunCmd(g),
		newScreenCmd(g),
		newMonitorCmd(g),
		newRecapCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// build loads configuration and wires the application.
func build(g *globalFlags) (*app.App, error) {
	cfg, err := config.Load(g.config, g.env...)
	if err != nil {
		return nil, err
	}
	log := logger.Init(cfg.Service, logger.ParseLevel(cfg.Log.Level), cfg.Log.Format, os.Stderr)
	return app.New(cfg, log)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(g)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()
			return a.Run(ctx)
		},
	}
}

func newScreenCmd(g *globalFlags) *cobra.Command {
	var symbols string
	cmd := &cobra.Command{
		Use:   "screen STRATEGY",
		Short: "Run one screening pass now",
		Example: `  screener screen bsjp
  screener screen bsjp --symbols BBCA,TLKM`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(g)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			var list []string
			for _, s := range strings.Split(symbols, ",") {
				if s = strings.TrimSpace(s); s != "" {
					list = append(list, s)
				}
			}
			rep, err := a.Screener.Run(ctx, args[0], list)
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols overriding the strategy universe")
	return cmd
}

func newMonitorCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Check open positions against the latest quotes once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(g)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()
			res, err := a.Tracker.Sweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newRecapCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recap [STRATEGY]",
		Short: "Send the performance recap for the configured lookback window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(g)
			if err != nil {
				return err
			}
			defer a.Close()

			var id string
			if len(args) == 1 {
				id = args[0]
				if _, ok := a.Screener.Strategy(id); !ok {
					return fmt.Errorf("unknown strategy %q", id)
				}
			}
			ctx, stop := signalContext()
			defer stop()
			s, err := a.Recap(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.config, g.env...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d strategies, store %s)\n", g.config, len(cfg.Strategies), cfg.Store.Backend)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "screener", version)
		},
	}
}
