package main

import (
	"github.com/spf13/cobra"

	"github.com/IshaanNene/RankWatch/internal/api"
)

func trialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trial <url> [other-url]",
		Short: "Check one page and optionally compare it with another",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var other string
			if len(args) == 2 {
				other = args[1]
			}
			res, err := a.pipeline.Trial(cmd.Context(), args[0], other)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the step endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.API.Addr = addr
			}
			a, err := newApp(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []api.ServerOption{}
			if a.store != nil {
				opts = append(opts, api.WithStore(a.store))
			}
			if a.metrics != nil {
				opts = append(opts, api.WithMetricsHandler(a.metrics.Handler()))
			}
			srv := api.NewServer(a.pipeline, cfg, logger, opts...)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
