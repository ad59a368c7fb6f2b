package page

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDocument 将 Document 映射到一个真实浏览器页面。
type PlaywrightDocument struct {
	page playwright.Page
}

// NewPlaywrightDocument 包装 playwright.Page。
func NewPlaywrightDocument(p playwright.Page) *PlaywrightDocument {
	return &PlaywrightDocument{page: p}
}

// ElementByID 实现 Document，查询不到时返回 (nil, nil)。
func (d *PlaywrightDocument) ElementByID(ctx context.Context, id string) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.page == nil || d.page.IsClosed() {
		return nil, nil
	}
	handle, err := d.page.QuerySelector(idSelector(id))
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if handle == nil {
		return nil, nil
	}
	return &playwrightElement{handle: handle}, nil
}

// idSelector 使用属性选择器，避免 id 中的特殊字符破坏 CSS 语法。
func idSelector(id string) string {
	return fmt.Sprintf("[id=%q]", id)
}

type playwrightElement struct {
	handle playwright.ElementHandle
}

func (e *playwrightElement) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.handle.InputValue()
}

func (e *playwrightElement) InnerHTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.handle.InnerHTML()
}

func (e *playwrightElement) SetValue(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Fill(value)
}

func (e *playwrightElement) DispatchChange(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.DispatchEvent("change")
}

func (e *playwrightElement) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Focus()
}

func (e *playwrightElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.handle.Click()
}
