package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// focusBinding 是页面内上报焦点的全局函数名。
const focusBinding = "__psbtBridgeFocused"

// focusScript 在页面获得焦点或变为可见时回调 focusBinding。
const focusScript = `(() => {
  if (window.__psbtBridgeFocusHooked) return;
  window.__psbtBridgeFocusHooked = true;
  const report = () => {
    if (document.visibilityState === "visible" && document.hasFocus() && window.` + focusBinding + `) {
      window.` + focusBinding + `();
    }
  };
  window.addEventListener("focus", report, true);
  document.addEventListener("visibilitychange", report);
})();`

// PlaywrightTabs 将 BrowserContext 的页面视为标签页。
// 新页面自动获得焦点，之后由页面内的 focus/visibilitychange 事件刷新焦点顺序。
type PlaywrightTabs struct {
	bctx     playwright.BrowserContext
	registry *TabRegistry
	logger   *slog.Logger
	onOpen   func(Tab, playwright.Page)
	onClose  func(Tab)

	mu    sync.Mutex
	pages map[playwright.Page]int
}

// PlaywrightTabsOption 自定义标签页生命周期回调。
type PlaywrightTabsOption func(*PlaywrightTabs)

// WithTabOpened 在页面被跟踪后回调，content host 借此挂载 Listener。
func WithTabOpened(fn func(Tab, playwright.Page)) PlaywrightTabsOption {
	return func(t *PlaywrightTabs) { t.onOpen = fn }
}

// WithTabClosed 在页面关闭后回调。
func WithTabClosed(fn func(Tab)) PlaywrightTabsOption {
	return func(t *PlaywrightTabs) { t.onClose = fn }
}

// WithTabsLogger 注入 slog Logger。
func WithTabsLogger(l *slog.Logger) PlaywrightTabsOption {
	return func(t *PlaywrightTabs) { t.logger = l }
}

// NewPlaywrightTabs 跟踪 bctx 中已有和后续打开的页面。
func NewPlaywrightTabs(bctx playwright.BrowserContext, opts ...PlaywrightTabsOption) (*PlaywrightTabs, error) {
	t := &PlaywrightTabs{
		bctx:     bctx,
		registry: NewTabRegistry(),
		logger:   slog.Default(),
		pages:    make(map[playwright.Page]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	err := bctx.ExposeBinding(focusBinding, func(source *playwright.BindingSource, _ ...interface{}) interface{} {
		if source != nil {
			t.focused(source.Page)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expose focus binding: %w", err)
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(focusScript)}); err != nil {
		return nil, fmt.Errorf("install focus script: %w", err)
	}
	for _, p := range bctx.Pages() {
		t.track(p)
		// 已加载的页面错过了初始化脚本，补装一次。
		if _, err := p.Evaluate(focusScript); err != nil {
			t.logger.Debug("focus script not installed", slog.String("url", p.URL()), slog.Any("err", err))
		}
	}
	bctx.OnPage(func(p playwright.Page) { t.track(p) })
	return t, nil
}

// track 登记页面并返回标签页 id，重复登记返回已有 id。
func (t *PlaywrightTabs) track(p playwright.Page) int {
	t.mu.Lock()
	if id, ok := t.pages[p]; ok {
		t.mu.Unlock()
		return id
	}
	tab := t.registry.Open(p.URL(), "")
	t.pages[p] = tab.ID
	t.mu.Unlock()
	p.OnFrameNavigated(func(f playwright.Frame) {
		if f == p.MainFrame() {
			t.registry.Navigate(tab.ID, f.URL())
		}
	})
	p.OnClose(func(playwright.Page) {
		t.registry.Close(tab.ID)
		t.mu.Lock()
		delete(t.pages, p)
		t.mu.Unlock()
		if t.onClose != nil {
			t.onClose(tab)
		}
	})
	if t.onOpen != nil {
		t.onOpen(tab, p)
	}
	return tab.ID
}

func (t *PlaywrightTabs) focused(p playwright.Page) {
	t.mu.Lock()
	id, ok := t.pages[p]
	t.mu.Unlock()
	if ok && t.registry.Focus(id) {
		t.logger.Debug("tab focused", slog.Int("tab", id))
	}
}

// OpenTab 打开新页面并导航到 url，新页面成为焦点标签页。
func (t *PlaywrightTabs) OpenTab(ctx context.Context, url string) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	p, err := t.bctx.NewPage()
	if err != nil {
		return Tab{}, fmt.Errorf("open page: %w", err)
	}
	if _, err := p.Goto(url); err != nil {
		return Tab{}, fmt.Errorf("navigate to %s: %w", url, err)
	}
	id := t.track(p)
	t.registry.Focus(id)
	t.registry.Navigate(id, url)
	return Tab{ID: id, URL: url}, nil
}

// ActiveTab 实现 TabQuerier。
func (t *PlaywrightTabs) ActiveTab(ctx context.Context) (Tab, bool, error) {
	return t.registry.ActiveTab(ctx)
}
