package page

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSettleDelay 给宿主页面的响应式逻辑留出的稳定时间。
const DefaultSettleDelay = 500 * time.Millisecond

// Config 控制 Extractor 行为。
type Config struct {
	Selectors   Selectors
	SettleDelay time.Duration
	Sleeper     Sleeper
	Logger      *slog.Logger
}

func (c *Config) normalize() Config {
	cfg := *c
	cfg.Selectors = cfg.Selectors.withDefaults()
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = NewRealSleeper()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Extractor 运行在 content script 上下文，负责读取签名请求和回写签名结果。
type Extractor struct {
	doc    Document
	cfg    Config
	logger *slog.Logger
}

// NewExtractor 构造 Extractor。doc 为空时所有操作都退化为空操作。
func NewExtractor(doc Document, cfg Config) *Extractor {
	normalized := cfg.normalize()
	return &Extractor{doc: doc, cfg: normalized, logger: normalized.Logger}
}

// Selectors 返回生效的元素 id。
func (e *Extractor) Selectors() Selectors {
	return e.cfg.Selectors
}

// ExtractRequest 读取三个约定位置，每个字段独立可选，值原样保留。
func (e *Extractor) ExtractRequest(ctx context.Context) SigningRequest {
	var req SigningRequest
	if e.doc == nil {
		return req
	}
	sel := e.cfg.Selectors
	req.PSBT = e.read(ctx, sel.PSBTInput, Element.Value)
	req.RequestType = e.read(ctx, sel.RequestType, Element.InnerHTML)
	req.Amount = e.read(ctx, sel.Amount, Element.InnerHTML)
	return req
}

// ApplySignedResult 回写签名结果并在 settle delay 之后触发审批控件。
// 任一元素缺失时对应步骤为空操作；ctx 在等待期间结束则放弃审批步骤。
func (e *Extractor) ApplySignedResult(ctx context.Context, signedPSBT string) {
	if e.doc == nil {
		return
	}
	sel := e.cfg.Selectors
	if out := e.lookup(ctx, sel.PSBTOutput); out != nil {
		if err := out.SetValue(ctx, signedPSBT); err != nil {
			e.logger.Debug("set signed psbt failed", slog.String("id", sel.PSBTOutput), slog.Any("err", err))
		} else if err := out.DispatchChange(ctx); err != nil {
			e.logger.Debug("dispatch change failed", slog.String("id", sel.PSBTOutput), slog.Any("err", err))
		}
	}

	if err := e.cfg.Sleeper.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		e.logger.Info("settle delay abandoned", slog.Any("err", err))
		return
	}

	approve := e.lookup(ctx, sel.Approve)
	if approve == nil {
		return
	}
	if err := approve.Focus(ctx); err != nil {
		e.logger.Debug("focus approve control failed", slog.String("id", sel.Approve), slog.Any("err", err))
	}
	if err := approve.Click(ctx); err != nil {
		e.logger.Debug("click approve control failed", slog.String("id", sel.Approve), slog.Any("err", err))
	}
}

func (e *Extractor) lookup(ctx context.Context, id string) Element {
	el, err := e.doc.ElementByID(ctx, id)
	if err != nil {
		e.logger.Debug("element lookup failed", slog.String("id", id), slog.Any("err", err))
		return nil
	}
	return el
}

func (e *Extractor) read(ctx context.Context, id string, get func(Element, context.Context) (string, error)) string {
	el := e.lookup(ctx, id)
	if el == nil {
		return ""
	}
	value, err := get(el, ctx)
	if err != nil {
		e.logger.Debug("element read failed", slog.String("id", id), slog.Any("err", err))
		return ""
	}
	return value
}
