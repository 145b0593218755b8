package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/dudu/moodface/internal/loader"
	"github.com/dudu/moodface/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the emotion API over HTTP",
	Example: `  moodface serve --addr 0.0.0.0:8080
  curl -F image=@face.jpg http://localhost:8080/v1/emotions`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
			gin.SetMode(gin.ReleaseMode)
		}

		p, err := loader.Load(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				logger.WithField("error", err.Error()).Warn("[serve] failed to release models")
			}
		}()

		srv := server.New(p, logger, server.WithRequestTimeout(cfg.RequestTimeout))
		return srv.Run(ctx, cfg.Addr)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&flagCfg.Addr, "addr", flagCfg.Addr, "Listen address")
	f.DurationVar(&flagCfg.RequestTimeout, "request-timeout", flagCfg.RequestTimeout, "Per request detection timeout (0 = none)")

	rootCmd.AddCommand(serveCmd)
}
