package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// MessageHandler 是 content script 侧的入站处理能力，由 Listener 实现。
// 消息以 JSON 线上格式进出，ok=false 表示不应答。
type MessageHandler interface {
	HandleRaw(ctx context.Context, raw []byte) ([]byte, bool)
}

// LocalTransport 在进程内把消息投递给按标签页注册的 handler。
type LocalTransport struct {
	mu       sync.RWMutex
	handlers map[int]MessageHandler
}

// NewLocalTransport 构造空的进程内通道。
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{handlers: make(map[int]MessageHandler)}
}

// Register 为标签页挂载 content script handler。
func (t *LocalTransport) Register(tabID int, h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[tabID] = h
}

// Unregister 卸载标签页 handler。
func (t *LocalTransport) Unregister(tabID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, tabID)
}

// Deliver 实现 Transport。消息与应答都经过线上编码，跨上下文只传值拷贝。
func (t *LocalTransport) Deliver(ctx context.Context, tab Tab, msg Message) (Response, error) {
	t.mu.RLock()
	h := t.handlers[tab.ID]
	t.mu.RUnlock()
	if h == nil {
		return Response{}, apierrors.New(apierrors.CodeTransport, fmt.Sprintf("receiving end does not exist in tab %d", tab.ID))
	}
	raw, err := Encode(msg)
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.CodeInvalidArgument, "encode message", err)
	}
	out, ok := h.HandleRaw(ctx, raw)
	if !ok {
		return Response{}, ErrNoResponse
	}
	resp, err := DecodeResponse(out)
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.CodeTransport, "decode response", err)
	}
	return resp, nil
}
