package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// Credentials 是 host 暴露的口令缓存能力，由 credential.Cache 实现。
type Credentials interface {
	SessionAvailable() bool
	Save(ctx context.Context, password string) error
	Get(ctx context.Context) string
	Clear(ctx context.Context) error
}

// Host 在标准输入输出上为浏览器提供会话口令缓存，进程生命周期即会话生命周期。
type Host struct {
	creds  Credentials
	logger *slog.Logger
}

// NewHost 构造 Host。
func NewHost(creds Credentials, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{creds: creds, logger: logger}
}

// Serve 循环读取请求并写回应答，直到输入结束或 ctx 被取消。
// 无法解析的单条消息只记录日志，不会终止循环。
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := Read(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Warn("native message decode failed", slog.Any("err", err))
			continue
		}
		resp := h.Handle(ctx, req)
		if err := Write(w, resp); err != nil {
			return err
		}
	}
}

// Handle 处理单条请求。
func (h *Host) Handle(ctx context.Context, req Request) Response {
	resp := Response{RequestID: req.RequestID}
	if h.creds == nil {
		resp.Error = errorBody(apierrors.New(apierrors.CodeUnavailable, "credential cache unavailable"))
		return resp
	}
	switch req.Type {
	case TypeSessionExists:
		resp.Exists = h.creds.SessionAvailable()
	case TypeSavePassword:
		if req.Password == nil {
			resp.Error = errorBody(apierrors.New(apierrors.CodeInvalidArgument, "savePassword requires password"))
			break
		}
		if err := h.creds.Save(ctx, *req.Password); err != nil {
			resp.Error = errorBody(err)
		}
	case TypeGetPassword:
		resp.Password = h.creds.Get(ctx)
	case TypeClearPassword:
		if err := h.creds.Clear(ctx); err != nil {
			resp.Error = errorBody(err)
		}
	default:
		resp.Error = errorBody(apierrors.New(apierrors.CodeInvalidArgument, "unknown request type "+string(req.Type)))
	}
	h.logger.Debug("native request handled", slog.String("type", string(req.Type)), slog.String("request_id", req.RequestID), slog.Bool("ok", resp.Error == nil))
	return resp
}

func errorBody(err error) *ErrorBody {
	if apiErr, ok := apierrors.FromError(err); ok {
		return &ErrorBody{Code: string(apiErr.Code), Message: apiErr.Message}
	}
	return &ErrorBody{Code: "INTERNAL_ERROR", Message: err.Error()}
}
