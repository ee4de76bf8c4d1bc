package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"strata/internal/api"
	"strata/internal/config"
	"strata/internal/seed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Entity query & mutation service over DSL-declared models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (yaml/json)")
	config.BindFlags(root.PersistentFlags())

	load := func(cmd *cobra.Command) (*app, error) {
		cfg, err := config.Load(cfgPath, cmd.Flags())
		if err != nil {
			return nil, err
		}
		return newApp(cfg)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.AutoMigrate {
				if err := a.eng.Migrate(cmd.Context()); err != nil {
					return err
				}
			}
			if err := a.seed(cmd.Context()); err != nil {
				return err
			}
			r := api.NewRouter(a.eng, api.ReloadRequest{DSLRoot: a.cfg.DSLDir, EnumsRoot: a.cfg.EnumsDir}, a.log)
			return api.RunServer(cmd.Context(), ":"+a.cfg.Port, r, a.log)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create schemas and tables for every registered entity and tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.eng.Migrate(cmd.Context())
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply yaml seeds from seeds_dir (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.eng.Migrate(cmd.Context()); err != nil {
				return err
			}
			return a.seed(cmd.Context())
		},
	}

	root.AddCommand(serve, migrate, seedCmd)
	root.RunE = serve.RunE
	return root
}

func (a *app) seed(ctx context.Context) error {
	files, err := seed.Load(a.cfg.SeedsDir)
	if err != nil {
		return err
	}
	n, err := seed.Apply(ctx, a.eng, files, a.log)
	if err != nil {
		return err
	}
	a.log.Info().Int("files", len(files)).Int("items", n).Msg("seeds applied")
	return nil
}
