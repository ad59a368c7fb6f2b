package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aegis-sign/psbt-bridge/internal/credential"
	"github.com/aegis-sign/psbt-bridge/internal/nativemsg"
)

func newNativeHostCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "native-host",
		Short: "Serve the session credential cache over native messaging on stdio",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache := credential.New(credential.NewMemoryStore(), credential.Config{
				TTL:     opts.cfg.Credential.TTL,
				Logger:  opts.logger,
				Metrics: credential.NewMetrics(prometheus.NewRegistry()),
			})
			opts.logger.Info("native host started", "ttl", opts.cfg.Credential.TTL)
			return nativemsg.NewHost(cache, opts.logger).Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
