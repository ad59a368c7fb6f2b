package nativemsg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// Client 通过 Native Messaging 管道访问远端凭据 host，实现与 credential.Cache 相同的方法集。
// 会话是否可用在 NewClient 时探测一次。
type Client struct {
	mu        sync.Mutex
	r         io.Reader
	w         io.Writer
	logger    *slog.Logger
	available bool
}

// NewClient 构造 Client 并探测 host 侧会话存储是否存在。探测失败视为不可用。
func NewClient(ctx context.Context, r io.Reader, w io.Writer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{r: r, w: w, logger: logger}
	resp, err := c.call(ctx, Request{Type: TypeSessionExists})
	if err != nil {
		logger.Warn("native host session check failed", slog.Any("err", err))
		return c
	}
	c.available = resp.Exists
	return c
}

// SessionAvailable 返回启动时的探测结果。
func (c *Client) SessionAvailable() bool { return c.available }

// Save 在 host 侧写入口令。
func (c *Client) Save(ctx context.Context, password string) error {
	if !c.available {
		return nil
	}
	_, err := c.call(ctx, Request{Type: TypeSavePassword, Password: &password})
	return err
}

// Get 读取 host 侧仍有效的口令，任何故障都视为没有凭据。
func (c *Client) Get(ctx context.Context) string {
	if !c.available {
		return ""
	}
	resp, err := c.call(ctx, Request{Type: TypeGetPassword})
	if err != nil {
		c.logger.Debug("native getPassword failed", slog.Any("err", err))
		return ""
	}
	return resp.Password
}

// Clear 清除 host 侧口令。
func (c *Client) Clear(ctx context.Context) error {
	if !c.available {
		return nil
	}
	_, err := c.call(ctx, Request{Type: TypeClearPassword})
	return err
}

// call 串行完成一次请求应答。管道是阻塞的，ctx 仅在发送前检查。
func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	req.RequestID = uuid.NewString()
	if err := Write(c.w, req); err != nil {
		return Response{}, apierrors.Wrap(apierrors.CodeTransport, "send native request", err)
	}
	raw, err := Read(c.r)
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.CodeTransport, "read native response", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, apierrors.Wrap(apierrors.CodeTransport, "decode native response", err)
	}
	if resp.RequestID != req.RequestID {
		return Response{}, apierrors.New(apierrors.CodeTransport, fmt.Sprintf("response id %q does not match request %q", resp.RequestID, req.RequestID))
	}
	if resp.Error != nil {
		return resp, apierrors.New(apierrors.Code(resp.Error.Code), resp.Error.Message)
	}
	return resp, nil
}
