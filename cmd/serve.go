package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/dissect/internal/config"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/internal/metrics"
	"firestige.xyz/dissect/internal/remote"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve decode requests over ZeroMQ",
	Long: `Run the remote dissection endpoint in the foreground.

The endpoint answers ping, version, protocols and dissect requests on a
ZeroMQ REP socket. When metrics are enabled, Prometheus metrics are served
over HTTP alongside. SIGINT and SIGTERM stop both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if serveEndpoint != "" {
			globalConfig.Remote.Endpoint = serveEndpoint
		}
		return runServe(ctx, globalConfig)
	},
}

var serveEndpoint string

func init() {
	serveCmd.Flags().StringVarP(&serveEndpoint, "endpoint", "e", "",
		"ZeroMQ endpoint, e.g. tcp://127.0.0.1:5555 (default from config)")
}

func runServe(ctx context.Context, cfg *config.GlobalConfig) error {
	set, err := newProtocols(cfg)
	if err != nil {
		return err
	}
	srv := remote.New(cfg.Remote.Endpoint, set)
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := ms.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return ms.Stop(context.WithoutCancel(gctx))
		})
	}

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	log.GetLogger().WithField("endpoint", cfg.Remote.Endpoint).Info("dissect serving")
	return g.Wait()
}
