package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// HTMLDocument 是基于 x/net/html 的页面快照实现，用于离线提取和测试。
type HTMLDocument struct {
	mu       sync.Mutex
	root     *html.Node
	changes  map[string]int
	clicks   map[string]int
	focused  string
	onChange map[string][]func(value string)
	onClick  map[string][]func()
}

// ParseHTML 解析页面快照。
func ParseHTML(r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &HTMLDocument{
		root:     root,
		changes:  make(map[string]int),
		clicks:   make(map[string]int),
		onChange: make(map[string][]func(string)),
		onClick:  make(map[string][]func()),
	}, nil
}

// ParseHTMLString 是 ParseHTML 的字符串便捷版本。
func ParseHTMLString(raw string) (*HTMLDocument, error) {
	return ParseHTML(strings.NewReader(raw))
}

// ElementByID 实现 Document。
func (d *HTMLDocument) ElementByID(ctx context.Context, id string) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	node := findByID(d.root, id)
	if node == nil {
		return nil, nil
	}
	return &htmlElement{doc: d, node: node, id: id}, nil
}

// OnChange 注册 change 事件监听，模拟宿主页面的表单校验逻辑。
func (d *HTMLDocument) OnChange(id string, fn func(value string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange[id] = append(d.onChange[id], fn)
}

// OnClick 注册 click 事件监听。
func (d *HTMLDocument) OnClick(id string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClick[id] = append(d.onClick[id], fn)
}

// ChangeCount 返回元素收到的 change 事件数。
func (d *HTMLDocument) ChangeCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changes[id]
}

// ClickCount 返回元素被激活的次数。
func (d *HTMLDocument) ClickCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clicks[id]
}

// Focused 返回当前获得焦点的元素 id。
func (d *HTMLDocument) Focused() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

// Render 输出当前 DOM，便于比较是否发生了变更。
func (d *HTMLDocument) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type htmlElement struct {
	doc  *HTMLDocument
	node *html.Node
	id   string
}

func (e *htmlElement) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Data == "textarea" {
		return textContent(e.node), nil
	}
	value, _ := attr(e.node, "value")
	return value, nil
}

func (e *htmlElement) InnerHTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var sb strings.Builder
	serializeChildren(&sb, e.node)
	return sb.String(), nil
}

func (e *htmlElement) SetValue(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Data == "textarea" {
		for c := e.node.FirstChild; c != nil; {
			next := c.NextSibling
			e.node.RemoveChild(c)
			c = next
		}
		e.node.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		return nil
	}
	setAttr(e.node, "value", value)
	return nil
}

func (e *htmlElement) DispatchChange(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	e.doc.changes[e.id]++
	listeners := append([]func(string){}, e.doc.onChange[e.id]...)
	value, _ := attr(e.node, "value")
	if e.node.Data == "textarea" {
		value = textContent(e.node)
	}
	e.doc.mu.Unlock()
	for _, fn := range listeners {
		fn(value)
	}
	return nil
}

func (e *htmlElement) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.focused = e.id
	return nil
}

func (e *htmlElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	e.doc.clicks[e.id]++
	listeners := append([]func(){}, e.doc.onClick[e.id]...)
	e.doc.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// voidElements 没有结束标签。
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
	"track": true, "wbr": true, "param": true, "keygen": true,
}

// rawTextElements 的文本子节点原样输出。
var rawTextElements = map[string]bool{
	"style": true, "script": true, "xmp": true, "iframe": true,
	"noembed": true, "noframes": true, "plaintext": true,
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "\u00a0", "&nbsp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "\u00a0", "&nbsp;", `"`, "&quot;")
)

// serializeChildren 按浏览器 innerHTML 的片段序列化规则输出子节点：
// 文本只转义 & < > 与 U+00A0，属性值只转义 & " 与 U+00A0。
func serializeChildren(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if n.Type == html.ElementNode && rawTextElements[n.Data] {
				sb.WriteString(c.Data)
			} else {
				sb.WriteString(textEscaper.Replace(c.Data))
			}
		case html.CommentNode:
			sb.WriteString("<!--")
			sb.WriteString(c.Data)
			sb.WriteString("-->")
		case html.ElementNode:
			sb.WriteByte('<')
			sb.WriteString(c.Data)
			for _, a := range c.Attr {
				sb.WriteByte(' ')
				if a.Namespace != "" {
					sb.WriteString(a.Namespace)
					sb.WriteByte(':')
				}
				sb.WriteString(a.Key)
				sb.WriteString(`="`)
				sb.WriteString(attrEscaper.Replace(a.Val))
				sb.WriteByte('"')
			}
			sb.WriteByte('>')
			if voidElements[c.Data] {
				continue
			}
			serializeChildren(sb, c)
			sb.WriteString("</")
			sb.WriteString(c.Data)
			sb.WriteByte('>')
		}
	}
}

func findByID(n *html.Node, id string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode {
		if v, ok := attr(n, "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
