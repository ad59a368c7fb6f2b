package bridgeapi

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aegis-sign/psbt-bridge/internal/relay"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// GRPCServer 实现 psbtbridge.v1.ContentScript，把远端 Relay 的请求转给本进程的标签页。
type GRPCServer struct {
	tabs      relay.TabQuerier
	transport relay.Transport
	logger    *slog.Logger
}

// TabOpener 由能打开新标签页的 TabQuerier 实现，例如 relay.PlaywrightTabs。
type TabOpener interface {
	OpenTab(ctx context.Context, url string) (relay.Tab, error)
}

// NewGRPCServer 构造 gRPC server。tabs 同时实现 TabOpener 时 OpenURL 可用。
func NewGRPCServer(tabs relay.TabQuerier, transport relay.Transport, logger *slog.Logger) *GRPCServer {
	if tabs == nil || transport == nil {
		panic("tab querier and transport are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{tabs: tabs, transport: transport, logger: logger}
}

// ActiveTab 返回当前获得焦点的标签页。
func (s *GRPCServer) ActiveTab(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tab, ok, err := s.tabs.ActiveTab(ctx)
	if err != nil {
		return nil, s.grpcError(apierrors.Wrap(apierrors.CodeTransport, "query active tab", err))
	}
	out, err := TabToStruct(tab, ok)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Deliver 把消息投递到指定标签页。未知消息与无应答一样以 responded=false 返回。
func (s *GRPCServer) Deliver(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	tabID, msg, err := ParseDeliverRequest(req)
	if errors.Is(err, relay.ErrUnknownMessage) {
		s.logger.Debug("ignoring unknown relay message", slog.Any("err", err))
		return DeliverResponse(relay.Response{}, false)
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.transport.Deliver(ctx, relay.Tab{ID: tabID}, msg)
	if errors.Is(err, relay.ErrNoResponse) {
		return DeliverResponse(relay.Response{}, false)
	}
	if err != nil {
		return nil, s.grpcError(err)
	}
	return DeliverResponse(resp, true)
}

// OpenURL 在浏览器中打开新标签页，用于显示设置页。
func (s *GRPCServer) OpenURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	url := req.GetFields()["url"].GetStringValue()
	if url == "" {
		return nil, status.Error(codes.InvalidArgument, "url is required")
	}
	opener, ok := s.tabs.(TabOpener)
	if !ok {
		return nil, s.grpcError(apierrors.New(apierrors.CodeUnavailable, "content host cannot open tabs"))
	}
	tab, err := opener.OpenTab(ctx, url)
	if err != nil {
		s.logger.Warn("open tab failed", slog.String("url", url), slog.Any("err", err))
		return nil, s.grpcError(apierrors.Wrap(apierrors.CodeTransport, "open tab", err))
	}
	s.logger.Info("tab opened", slog.Int("tab", tab.ID), slog.String("url", url))
	out, err := TabToStruct(tab, true)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *GRPCServer) grpcError(err error) error {
	if apiErr, ok := apierrors.FromError(err); ok {
		return status.Error(apierrors.GRPCStatus(apiErr.Code), apiErr.Error())
	}
	return status.Error(codes.Internal, "internal error")
}
