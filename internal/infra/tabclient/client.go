// Package tabclient 是弹窗进程访问 content script 进程的 gRPC 客户端，
// 同时实现 relay.TabQuerier 与 relay.Transport。
package tabclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	bridgeapi "github.com/aegis-sign/psbt-bridge/internal/api"
	"github.com/aegis-sign/psbt-bridge/internal/relay"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// ErrBreakerOpen 表示端点处于熔断冷却期。
var ErrBreakerOpen = errors.New("content script endpoint circuit open")

// Option 允许自定义 Client 行为。
type Option func(*Client)

// WithDialer 自定义拨号器。
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger 注入 slog Logger。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics 注入指标集合。
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock 替换熔断器使用的时间来源。
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client 按端点懒建立并缓存连接。标签页自带 Endpoint 时投递到该端点，否则使用默认端点。
type Client struct {
	cfg     Config
	dialer  Dialer
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu        sync.Mutex
	endpoints map[string]*endpointConn
	closed    bool
}

type endpointConn struct {
	conn    *grpc.ClientConn
	breaker *circuitBreaker
}

var (
	_ relay.TabQuerier = (*Client)(nil)
	_ relay.Transport  = (*Client)(nil)
)

// New 构造 Client，不会立即拨号。
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg.Normalize(),
		dialer:    defaultDialer,
		logger:    slog.Default(),
		endpoints: make(map[string]*endpointConn),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = defaultDialer
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ActiveTab 实现 relay.TabQuerier，查询默认端点上获得焦点的标签页。
func (c *Client) ActiveTab(ctx context.Context) (relay.Tab, bool, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, c.cfg.Endpoint, bridgeapi.MethodActiveTab, &structpb.Struct{}, out); err != nil {
		return relay.Tab{}, false, err
	}
	tab, ok := bridgeapi.TabFromStruct(out)
	if ok && tab.Endpoint == "" {
		tab.Endpoint = c.cfg.Endpoint
	}
	return tab, ok, nil
}

// Deliver 实现 relay.Transport。对端未应答时返回 relay.ErrNoResponse。
func (c *Client) Deliver(ctx context.Context, tab relay.Tab, msg relay.Message) (relay.Response, error) {
	req, err := bridgeapi.DeliverRequest(tab.ID, msg)
	if err != nil {
		return relay.Response{}, apierrors.Wrap(apierrors.CodeInvalidArgument, "encode deliver request", err)
	}
	endpoint := tab.Endpoint
	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, endpoint, bridgeapi.MethodDeliver, req, out); err != nil {
		return relay.Response{}, err
	}
	resp, responded, err := bridgeapi.ParseDeliverResponse(out)
	if err != nil {
		return relay.Response{}, apierrors.Wrap(apierrors.CodeTransport, "decode deliver response", err)
	}
	if !responded {
		return relay.Response{}, relay.ErrNoResponse
	}
	return resp, nil
}

// OpenURL 请求默认端点上的浏览器在新标签页打开 url。
func (c *Client) OpenURL(ctx context.Context, url string) (relay.Tab, error) {
	req, err := structpb.NewStruct(map[string]any{"url": url})
	if err != nil {
		return relay.Tab{}, apierrors.Wrap(apierrors.CodeInvalidArgument, "encode open request", err)
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, c.cfg.Endpoint, bridgeapi.MethodOpenURL, req, out); err != nil {
		return relay.Tab{}, err
	}
	tab, _ := bridgeapi.TabFromStruct(out)
	if tab.Endpoint == "" {
		tab.Endpoint = c.cfg.Endpoint
	}
	return tab, nil
}

// Check 通过标准健康检查服务确认默认端点上的 content script 服务可用。
func (c *Client) Check(ctx context.Context) error {
	ep, err := c.acquire(ctx, c.cfg.Endpoint)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(ep.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: bridgeapi.ContentScriptServiceName})
	if err != nil {
		return fromStatus(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apierrors.New(apierrors.CodeUnavailable, fmt.Sprintf("content script %s", resp.GetStatus()))
	}
	return nil
}

// Close 关闭所有连接。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var errs []error
	for endpoint, ep := range c.endpoints {
		if err := ep.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.metrics.addConn(-1)
		delete(c.endpoints, endpoint)
	}
	return errors.Join(errs...)
}

func (c *Client) invoke(ctx context.Context, endpoint, method string, in, out *structpb.Struct) error {
	ep, err := c.acquire(ctx, endpoint)
	if err != nil {
		return err
	}
	start := time.Now()
	err = ep.conn.Invoke(ctx, method, in, out)
	if err != nil {
		c.metrics.observeCall(method, "error", time.Since(start))
		if !countsAsFailure(err) {
			return fromStatus(err)
		}
		if ep.breaker.Failure() {
			c.metrics.incTrip(endpoint)
			c.logger.Warn("content script endpoint tripped", slog.String("endpoint", endpoint))
		}
		return fromStatus(err)
	}
	c.metrics.observeCall(method, "ok", time.Since(start))
	ep.breaker.Success()
	return nil
}

func (c *Client) acquire(ctx context.Context, endpoint string) (*endpointConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, apierrors.New(apierrors.CodeTransport, "tab client closed")
	}
	if ep, ok := c.endpoints[endpoint]; ok {
		if !ep.breaker.Allow() {
			return nil, apierrors.Wrap(apierrors.CodeTransport, endpoint, ErrBreakerOpen)
		}
		return ep, nil
	}
	conn, err := c.dialer(ctx, endpoint, c.cfg)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeTransport, fmt.Sprintf("dial %s", endpoint), err)
	}
	ep := &endpointConn{
		conn:    conn,
		breaker: newCircuitBreaker(c.cfg.BreakerThreshold, c.cfg.Backoff, c.now),
	}
	c.endpoints[endpoint] = ep
	c.metrics.addConn(1)
	c.logger.Debug("content script endpoint connected", slog.String("endpoint", endpoint))
	return ep, nil
}

// countsAsFailure 只把通道层故障计入熔断，对端返回的参数错误不计。
func countsAsFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unknown:
		return true
	default:
		return false
	}
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return apierrors.Wrap(apierrors.CodeTransport, "invoke content script", err)
	}
	code := apierrors.FromGRPC(st.Code())
	if code == apierrors.Code("INTERNAL_ERROR") {
		code = apierrors.CodeTransport
	}
	return apierrors.New(code, st.Message())
}
