// Package orchestrator 驱动弹窗侧的签名流程：取回页面请求、交给签名能力、回写结果。
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/aegis-sign/psbt-bridge/internal/credential"
	"github.com/aegis-sign/psbt-bridge/internal/page"
	"github.com/aegis-sign/psbt-bridge/internal/psbtinfo"
	"github.com/aegis-sign/psbt-bridge/internal/relay"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// ErrAlreadyActivated 表示同一次弹窗打开内重复激活。
var ErrAlreadyActivated = errors.New("orchestrator already activated")

// Host 是交给签名能力的回调面，取代挂在全局对象上的函数。
type Host interface {
	PastePSBT(ctx context.Context, psbt string) error
	SessionExists() bool
	SavePassword(ctx context.Context, password string) error
	GetPassword(ctx context.Context) string
	OpenOptionsPage(ctx context.Context) error
}

// Signer 是外部签名能力。它负责自己的交互流程，完成后通过 Host.PastePSBT 回写。
type Signer interface {
	ApprovePSBT(ctx context.Context, req page.SigningRequest, host Host) error
}

// Shell 是扩展运行环境提供的动作。
type Shell interface {
	OpenOptionsPage(ctx context.Context) error
	ClosePopup(ctx context.Context) error
}

// Credentials 是口令缓存能力，由 credential.Cache 或 native host 客户端实现。
type Credentials interface {
	SessionAvailable() bool
	Save(ctx context.Context, password string) error
	Get(ctx context.Context) string
	Clear(ctx context.Context) error
}

// Requester 是 relay.Relay 的发送能力。
type Requester interface {
	SendRequest(ctx context.Context, msg relay.Message) (relay.Response, error)
}

// Config 控制 Orchestrator 的可选依赖。
type Config struct {
	Shell  Shell
	Logger *slog.Logger
}

// Orchestrator 在弹窗上下文中串联 Relay、签名能力与凭据缓存。
type Orchestrator struct {
	requester Requester
	cache     Credentials
	signer    Signer
	shell     Shell
	logger    *slog.Logger

	activated atomic.Bool
}

var _ Host = (*Orchestrator)(nil)

// New 构造 Orchestrator。signer 为空时使用 NoopSigner，cache 为空视为会话存储不可用。
func New(requester Requester, cache Credentials, signer Signer, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if signer == nil {
		signer = NoopSigner{}
	}
	if cache == nil {
		cache = credential.New(nil, credential.Config{Logger: logger})
	}
	return &Orchestrator{
		requester: requester,
		cache:     cache,
		signer:    signer,
		shell:     cfg.Shell,
		logger:    logger,
	}
}

// Activate 在每次弹窗打开时调用一次：发送 findPSBT，若页面给出了 PSBT 则交给签名能力。
// 页面没有 PSBT 或没有活动标签页时什么也不做。
func (o *Orchestrator) Activate(ctx context.Context) error {
	if !o.activated.CompareAndSwap(false, true) {
		return ErrAlreadyActivated
	}
	if o.requester == nil {
		o.logger.Debug("relay unavailable, nothing to activate")
		return nil
	}
	req, err := o.requester.SendRequest(ctx, relay.FindPSBT{})
	if err != nil {
		o.logger.Warn("findPSBT failed", slog.Any("err", err))
		return err
	}
	if req.PSBT == "" {
		o.logger.Debug("page carries no psbt")
		return nil
	}
	attrs := []any{
		slog.Int("psbt_len", len(req.PSBT)),
		slog.String("request_type", req.RequestType),
		slog.String("amount", req.Amount),
	}
	if details, err := psbtinfo.Parse(req.PSBT); err == nil {
		attrs = append(attrs, slog.String("tx_id", details.TxID), slog.String("fee", details.Fee.String()))
	} else {
		attrs = append(attrs, slog.Any("details_err", err))
	}
	o.logger.Info("signing request received", attrs...)
	if err := o.signer.ApprovePSBT(ctx, req, o); err != nil {
		o.logger.Warn("signer rejected request", slog.Any("err", err))
		return err
	}
	return nil
}

// PastePSBT 把签名结果经 Relay 发回页面。
func (o *Orchestrator) PastePSBT(ctx context.Context, psbt string) error {
	if o.requester == nil {
		return nil
	}
	_, err := o.requester.SendRequest(ctx, relay.PastePSBT{PSBT: psbt})
	if err != nil {
		o.logger.Warn("pastePSBT failed", slog.Any("err", err))
		return err
	}
	o.logger.Info("signed psbt delivered", slog.Int("psbt_len", len(psbt)))
	return nil
}

// SessionExists 报告会话存储是否可用。
func (o *Orchestrator) SessionExists() bool {
	return o.cache.SessionAvailable()
}

// SavePassword 写入带过期时间的口令。
func (o *Orchestrator) SavePassword(ctx context.Context, password string) error {
	return o.cache.Save(ctx, password)
}

// GetPassword 返回仍在有效期内的口令，否则返回空串。
func (o *Orchestrator) GetPassword(ctx context.Context) string {
	return o.cache.Get(ctx)
}

// RestorePassword 在弹窗启动时读取缓存口令，ok 表示口令仍有效。
func (o *Orchestrator) RestorePassword(ctx context.Context) (string, bool) {
	pw := o.cache.Get(ctx)
	return pw, pw != ""
}

// OpenOptionsPage 打开设置页并关闭当前弹窗。
func (o *Orchestrator) OpenOptionsPage(ctx context.Context) error {
	if o.shell == nil {
		o.logger.Debug("no shell configured, options page unavailable")
		return apierrors.New(apierrors.CodeUnavailable, "options page unavailable")
	}
	if err := o.shell.OpenOptionsPage(ctx); err != nil {
		return err
	}
	return o.shell.ClosePopup(ctx)
}
