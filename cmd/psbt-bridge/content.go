package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	bridgeapi "github.com/aegis-sign/psbt-bridge/internal/api"
	"github.com/aegis-sign/psbt-bridge/internal/infra/tabclient"
	"github.com/aegis-sign/psbt-bridge/internal/page"
	"github.com/aegis-sign/psbt-bridge/internal/relay"
)

func newContentCommand(opts *rootOptions) *cobra.Command {
	var install bool
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Drive a browser and serve the content script over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runContent(cmd.Context(), opts, install)
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "install playwright browsers before launching")
	return cmd
}

func runContent(ctx context.Context, opts *rootOptions, install bool) error {
	cfg, logger := opts.cfg, opts.logger
	runOpts := &playwright.RunOptions{Browsers: []string{cfg.Content.Browser}}
	if install {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	defer func() { _ = pw.Stop() }()

	browserType := map[string]playwright.BrowserType{
		"chromium": pw.Chromium,
		"firefox":  pw.Firefox,
		"webkit":   pw.WebKit,
	}[cfg.Content.Browser]
	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(cfg.Content.Headless)})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() { _ = browser.Close() }()
	bctx, err := browser.NewContext()
	if err != nil {
		return fmt.Errorf("create browser context: %w", err)
	}

	reg := prometheus.NewRegistry()
	relayMetrics := relay.NewMetrics(reg)
	transport := relay.NewLocalTransport()
	listeners := &listenerSet{byTab: make(map[int]*relay.Listener)}
	tabs, err := relay.NewPlaywrightTabs(bctx,
		relay.WithTabsLogger(logger),
		relay.WithTabOpened(func(tab relay.Tab, p playwright.Page) {
			extractor := page.NewExtractor(page.NewPlaywrightDocument(p), page.Config{
				Selectors:   cfg.Page.Selectors,
				SettleDelay: cfg.Page.SettleDelay,
				Logger:      logger.With("tab", tab.ID),
			})
			listener, err := relay.NewListener(extractor, relay.ListenerConfig{
				RateLimit: cfg.Relay.RateLimit,
				RateBurst: cfg.Relay.RateBurst,
				Logger:    logger.With("tab", tab.ID),
				Metrics:   relayMetrics,
			})
			if err != nil {
				logger.Error("content script not attached", "tab", tab.ID, "error", err)
				return
			}
			listeners.put(tab.ID, listener)
			transport.Register(tab.ID, listener)
			logger.Info("content script attached", "tab", tab.ID, "url", tab.URL)
		}),
		relay.WithTabClosed(func(tab relay.Tab) {
			transport.Unregister(tab.ID)
			listeners.put(tab.ID, nil)
			logger.Info("content script detached", "tab", tab.ID)
		}),
	)
	if err != nil {
		return fmt.Errorf("track browser tabs: %w", err)
	}

	if cfg.Content.StartURL != "" {
		if _, err := tabs.OpenTab(ctx, cfg.Content.StartURL); err != nil {
			return fmt.Errorf("open start page: %w", err)
		}
	}

	lis, err := tabclient.ListenEndpoint(cfg.Content.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Content.Listen, err)
	}
	grpcSrv := grpc.NewServer()
	bridgeapi.RegisterContentScriptServer(grpcSrv, bridgeapi.NewGRPCServer(tabs, transport, logger))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(bridgeapi.ContentScriptServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		logger.Info("gRPC content script listening", "endpoint", cfg.Content.Listen)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server closed unexpectedly", "error", err)
		}
	}()
	defer func() {
		healthSrv.Shutdown()
		grpcSrv.GracefulStop()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler(reg))
	mux.HandleFunc("/debug/listener", func(w http.ResponseWriter, r *http.Request) {
		tab, ok, err := tabs.ActiveTab(r.Context())
		if err != nil || !ok {
			http.NotFound(w, r)
			return
		}
		listener := listeners.get(tab.ID)
		if listener == nil {
			http.NotFound(w, r)
			return
		}
		listener.DebugHandler().ServeHTTP(w, r)
	})
	return serveHTTP(ctx, logger, "content", cfg.Content.MetricsAddr, mux)
}

// listenerSet 记录每个标签页挂载的 Listener，供 /debug/listener 使用。
type listenerSet struct {
	mu    sync.Mutex
	byTab map[int]*relay.Listener
}

func (s *listenerSet) put(tabID int, l *relay.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l == nil {
		delete(s.byTab, tabID)
		return
	}
	s.byTab[tabID] = l
}

func (s *listenerSet) get(tabID int) *relay.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byTab[tabID]
}
