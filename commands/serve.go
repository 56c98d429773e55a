package commands

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the quest tracker server",
		Long:  "Start the REST API, the SSE stream and the background jobs, and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Server.AdminKey == "" {
				logger.Warn("server.admin_key is not set; admin endpoints are disabled")
			}
			if len(cfg.Security.AllowedOrigins) == 0 {
				logger.Warn("security.allowed_origins is empty; SSE accepts every origin")
			}
			if !cfg.Server.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}
