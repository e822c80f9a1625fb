package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"wfscript/internal/server"
	"wfscript/pkg/logger"
	"wfscript/pkg/metrics"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interpret and check API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Addr = addr
			}
			log := logger.New(a.cfg.Env, cmd.ErrOrStderr())
			slog.SetDefault(log)
			log.Info("Starting wfscript...", "env", a.cfg.Env, "version", Version)

			srv, err := server.New(a.cfg, metrics.NewRecorder(), log)
			if err != nil {
				return &exitError{code: ExitConfigError, err: err}
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from WFSCRIPT_ADDR)")
	return cmd
}
