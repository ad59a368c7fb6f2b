package page

import (
	"context"
	"time"
)

// Document 抽象宿主页面 DOM，只暴露按 id 查找元素的能力。
type Document interface {
	// ElementByID 在元素不存在时返回 (nil, nil)，不存在属于正常情况而非错误。
	ElementByID(ctx context.Context, id string) (Element, error)
}

// Element 是 Extractor 需要的最小元素能力集合。
type Element interface {
	Value(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context) (string, error)
	SetValue(ctx context.Context, value string) error
	DispatchChange(ctx context.Context) error
	Focus(ctx context.Context) error
	Click(ctx context.Context) error
}

// Sleeper 是 settle delay 的协作式让出点，测试可注入假实现。
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewRealSleeper 返回基于 time.Timer 的默认实现。
func NewRealSleeper() Sleeper { return realSleeper{} }
