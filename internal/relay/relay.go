package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// ErrNoResponse 表示 content script 没有给出应答（例如忽略了消息），调用方应视为失败。
var ErrNoResponse = errors.New("content script sent no response")

// Transport 负责把消息投递到指定标签页的 content script 并取回应答。
type Transport interface {
	Deliver(ctx context.Context, tab Tab, msg Message) (Response, error)
}

// Config 控制 Relay 行为。
type Config struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	Observer TransitionObserver
}

// Relay 运行在特权上下文，负责把消息发往活动标签页。
type Relay struct {
	tabs      TabQuerier
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics
	observer  TransitionObserver
	group     singleflight.Group
}

// New 构造 Relay。tabs 或 transport 为空表示消息能力不可用，所有请求返回空应答。
func New(tabs TabQuerier, transport Transport, cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		tabs:      tabs,
		transport: transport,
		logger:    logger,
		metrics:   cfg.Metrics,
		observer:  cfg.Observer,
	}
}

// Available 报告消息能力是否存在。
func (r *Relay) Available() bool {
	return r.tabs != nil && r.transport != nil
}

// SendRequest 把消息投递到当前活动标签页。
// 没有活动标签页时返回空应答而不是错误；通道故障以单个 CodeTransport 错误返回且不重试。
func (r *Relay) SendRequest(ctx context.Context, msg Message) (Response, error) {
	if msg == nil {
		return Response{}, apierrors.New(apierrors.CodeInvalidArgument, "message is required")
	}
	if !r.Available() {
		r.metrics.incRequest(msg.Type(), "unavailable")
		return Response{}, nil
	}
	tr := r.trace()
	tr.move(StateAwaitingTab)
	tab, ok, err := r.tabs.ActiveTab(ctx)
	if err != nil {
		tr.move(StateIdle)
		r.metrics.incRequest(msg.Type(), "error")
		r.logger.Warn("active tab query failed", slog.String("type", string(msg.Type())), slog.Any("err", err))
		return Response{}, apierrors.Wrap(apierrors.CodeTransport, "query active tab", err)
	}
	if !ok {
		tr.move(StateIdle)
		r.metrics.incNoActiveTab()
		r.metrics.incRequest(msg.Type(), "no_tab")
		r.logger.Debug("no active tab", slog.String("type", string(msg.Type())))
		return Response{}, nil
	}

	tr.move(StateAwaitingResponse)
	start := time.Now()
	resp, err := r.deliver(ctx, tab, msg)
	r.metrics.observeLatency(msg.Type(), float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		tr.move(StateIdle)
		r.metrics.incRequest(msg.Type(), "error")
		r.logger.Warn("relay delivery failed", slog.Int("tab", tab.ID), slog.String("type", string(msg.Type())), slog.Any("err", err))
		if _, coded := apierrors.FromError(err); coded {
			return Response{}, err
		}
		return Response{}, apierrors.Wrap(apierrors.CodeTransport, "deliver message", err)
	}
	tr.move(StateDelivered)
	r.metrics.incRequest(msg.Type(), "delivered")
	return resp, nil
}

// deliver 对同一标签页上并发的 findPSBT 做合并，pastePSBT 有副作用，从不合并。
// 合并后的投递不继承任何一个调用方的取消，每个调用方只在自己的 ctx 上放弃等待。
func (r *Relay) deliver(ctx context.Context, tab Tab, msg Message) (Response, error) {
	if _, ok := msg.(FindPSBT); !ok {
		return r.transport.Deliver(ctx, tab, msg)
	}
	key := fmt.Sprintf("%d/%s", tab.ID, TypeFindPSBT)
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.transport.Deliver(shared, tab, msg)
	})
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.metrics.incCoalesced()
		}
		if res.Err != nil {
			return Response{}, res.Err
		}
		return res.Val.(Response), nil
	}
}

type requestTrace struct {
	relay *Relay
	state State
}

func (r *Relay) trace() *requestTrace {
	return &requestTrace{relay: r, state: StateIdle}
}

func (t *requestTrace) move(to State) {
	from := t.state
	if from == to {
		return
	}
	t.state = to
	t.relay.metrics.moveState(from, to)
	if t.relay.observer != nil {
		t.relay.observer(from, to)
	}
}
