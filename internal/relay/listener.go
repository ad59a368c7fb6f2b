package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/aegis-sign/psbt-bridge/internal/page"
)

// FieldExtractor 是 Listener 依赖的页面能力，由 page.Extractor 实现。
type FieldExtractor interface {
	ExtractRequest(ctx context.Context) page.SigningRequest
	ApplySignedResult(ctx context.Context, signedPSBT string)
}

// ListenerConfig 控制 content script 侧的入站处理。
type ListenerConfig struct {
	// RateLimit 为每秒允许的入站消息数，<=0 表示不限速。
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
	Metrics   *Metrics
}

func (c *ListenerConfig) normalize() ListenerConfig {
	cfg := *c
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Listener 运行在 content script 上下文，把入站消息分派给 FieldExtractor。
type Listener struct {
	extractor FieldExtractor
	cfg       ListenerConfig
	logger    *slog.Logger
	metrics   *Metrics

	limiter atomic.Pointer[rate.Limiter]

	handled   atomic.Uint64
	ignored   atomic.Uint64
	dropped   atomic.Uint64
	recovered atomic.Uint64
}

// NewListener 构造 Listener。
func NewListener(extractor FieldExtractor, cfg ListenerConfig) (*Listener, error) {
	if extractor == nil {
		return nil, errors.New("field extractor is required")
	}
	normalized := cfg.normalize()
	l := &Listener{
		extractor: extractor,
		cfg:       normalized,
		logger:    normalized.Logger,
		metrics:   normalized.Metrics,
	}
	l.UpdateRateLimit(normalized.RateLimit)
	return l, nil
}

// UpdateRateLimit 热更新入站速率限制。
func (l *Listener) UpdateRateLimit(rateValue float64) {
	if rateValue <= 0 {
		l.limiter.Store(nil)
		return
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(rateValue), l.cfg.RateBurst))
}

// OnMessage 对消息做穷尽分派；ok=false 表示不发送应答（被限速或无法识别）。
// 处理过程中的 panic 在边界处被转换为空应答。
func (l *Listener) OnMessage(ctx context.Context, msg Message) (resp Response, ok bool) {
	if limiter := l.limiter.Load(); limiter != nil && !limiter.Allow() {
		l.dropped.Add(1)
		l.metrics.incListener(typeLabel(msg), "dropped")
		return Response{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			l.recovered.Add(1)
			l.metrics.incListener(typeLabel(msg), "recovered")
			l.logger.Error("content script handler panicked", slog.Any("panic", r))
			resp, ok = Response{}, true
		}
	}()
	switch m := msg.(type) {
	case FindPSBT:
		resp = l.extractor.ExtractRequest(ctx)
		l.logger.Debug("findPSBT handled", slog.Bool("psbt_found", resp.PSBT != ""))
	case PastePSBT:
		l.extractor.ApplySignedResult(ctx, m.PSBT)
		l.logger.Debug("pastePSBT handled", slog.Int("psbt_len", len(m.PSBT)))
	default:
		l.ignored.Add(1)
		l.metrics.incListener(typeLabel(msg), "ignored")
		return Response{}, false
	}
	l.handled.Add(1)
	l.metrics.incListener(typeLabel(msg), "handled")
	return resp, true
}

// HandleRaw 处理 JSON 线上格式，是 LocalTransport 的入口；未知 type 或非法载荷被静默忽略。
func (l *Listener) HandleRaw(ctx context.Context, raw []byte) ([]byte, bool) {
	msg, err := Decode(raw)
	if err != nil {
		l.ignored.Add(1)
		l.metrics.incListener("unknown", "ignored")
		l.logger.Debug("ignoring inbound message", slog.Any("err", err))
		return nil, false
	}
	resp, ok := l.OnMessage(ctx, msg)
	if !ok {
		return nil, false
	}
	out, err := EncodeResponse(resp)
	if err != nil {
		l.logger.Warn("encode response failed", slog.Any("err", err))
		return []byte("{}"), true
	}
	return out, true
}

// DebugHandler 返回 /debug/listener 所需的 handler。
func (l *Listener) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(l.snapshot())
	})
}

type listenerSnapshot struct {
	Handled   uint64    `json:"handled"`
	Ignored   uint64    `json:"ignored"`
	Dropped   uint64    `json:"dropped"`
	Recovered uint64    `json:"recovered"`
	RateLimit float64   `json:"rateLimit"`
	Timestamp time.Time `json:"timestamp"`
}

func (l *Listener) snapshot() listenerSnapshot {
	snap := listenerSnapshot{
		Handled:   l.handled.Load(),
		Ignored:   l.ignored.Load(),
		Dropped:   l.dropped.Load(),
		Recovered: l.recovered.Load(),
		Timestamp: time.Now(),
	}
	if limiter := l.limiter.Load(); limiter != nil {
		snap.RateLimit = float64(limiter.Limit())
	}
	return snap
}

func typeLabel(msg Message) string {
	if msg == nil {
		return "unknown"
	}
	return string(msg.Type())
}
