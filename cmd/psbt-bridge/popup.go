package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	bridgeapi "github.com/aegis-sign/psbt-bridge/internal/api"
	"github.com/aegis-sign/psbt-bridge/internal/credential"
	"github.com/aegis-sign/psbt-bridge/internal/infra/tabclient"
	"github.com/aegis-sign/psbt-bridge/internal/nativemsg"
	"github.com/aegis-sign/psbt-bridge/internal/orchestrator"
	"github.com/aegis-sign/psbt-bridge/internal/relay"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

func newPopupCommand(opts *rootOptions) *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "popup",
		Short: "Activate one signing flow against the focused tab",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPopup(cmd.Context(), opts, serve)
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "keep serving the host HTTP surface after activation")
	return cmd
}

func runPopup(ctx context.Context, opts *rootOptions, serve bool) error {
	cfg, logger := opts.cfg, opts.logger
	// 关闭弹窗即结束本次运行，--serve 时 HTTP 服务随之退出。
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reg := prometheus.NewRegistry()

	client := tabclient.New(cfg.TabClient, tabclient.WithLogger(logger), tabclient.WithMetrics(tabclient.NewMetrics(reg)))
	defer func() { _ = client.Close() }()
	r := relay.New(client, client, relay.Config{Logger: logger, Metrics: relay.NewMetrics(reg)})

	creds, closeCreds, err := popupCredentials(ctx, cfg.Popup.NativeHost, cfg.Credential.TTL, logger, reg)
	if err != nil {
		return err
	}
	defer closeCreds()

	var signer orchestrator.Signer = orchestrator.NoopSigner{}
	if len(cfg.Popup.SignerCommand) > 0 {
		signer = orchestrator.CommandSigner{
			Path:        cfg.Popup.SignerCommand[0],
			Args:        cfg.Popup.SignerCommand[1:],
			PasswordEnv: cfg.Popup.PasswordEnv,
		}
	}
	o := orchestrator.New(r, creds, signer, orchestrator.Config{
		Shell:  &popupShell{optionsURL: cfg.Popup.OptionsURL, tabs: client, close: cancel, logger: logger},
		Logger: logger,
	})

	if err := client.Check(ctx); err != nil {
		logger.Warn("content script endpoint not serving", "endpoint", cfg.TabClient.Endpoint, "error", err)
	}
	if _, ok := o.RestorePassword(ctx); ok {
		logger.Info("cached password still valid")
	}
	if err := o.Activate(ctx); err != nil {
		logger.Error("activation failed", "error", err)
		if !serve {
			return err
		}
	}
	if !serve {
		return nil
	}
	mux := http.NewServeMux()
	bridgeapi.NewHTTPHandler(o, bridgeapi.WithBearerToken(cfg.Popup.HTTPToken)).Register(mux)
	mux.Handle("/metrics", metricsHandler(reg))
	return serveHTTP(ctx, logger, "popup", cfg.Popup.HTTPAddr, mux)
}

// popupCredentials 在配置了 native host 时通过子进程访问会话存储，否则使用进程内存储。
func popupCredentials(ctx context.Context, nativeHost []string, ttl time.Duration, logger *slog.Logger, reg prometheus.Registerer) (orchestrator.Credentials, func(), error) {
	if len(nativeHost) == 0 {
		cache := credential.New(credential.NewMemoryStore(), credential.Config{
			TTL:     ttl,
			Logger:  logger,
			Metrics: credential.NewMetrics(reg),
		})
		return cache, func() {}, nil
	}
	cmd := exec.CommandContext(ctx, nativeHost[0], nativeHost[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("native host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("native host stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start native host: %w", err)
	}
	client := nativemsg.NewClient(ctx, stdout, stdin, logger)
	cleanup := func() {
		_ = stdin.Close()
		_ = cmd.Wait()
	}
	return client, cleanup, nil
}

// urlOpener 由 tabclient.Client 实现，在 content 进程的浏览器里打开页面。
type urlOpener interface {
	OpenURL(ctx context.Context, url string) (relay.Tab, error)
}

// popupShell 在浏览器中打开设置页，关闭弹窗时结束 popup 子命令。
type popupShell struct {
	optionsURL string
	tabs       urlOpener
	close      context.CancelFunc
	logger     *slog.Logger
}

func (s *popupShell) OpenOptionsPage(ctx context.Context) error {
	if s.optionsURL == "" {
		return apierrors.New(apierrors.CodeUnavailable, "options page not configured")
	}
	tab, err := s.tabs.OpenURL(ctx, s.optionsURL)
	if err != nil {
		return err
	}
	s.logger.Info("options page opened", "tab", tab.ID, "url", s.optionsURL)
	return nil
}

func (s *popupShell) ClosePopup(context.Context) error {
	s.logger.Info("popup closed")
	s.close()
	return nil
}
