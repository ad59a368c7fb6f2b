package relay

import (
	"context"
	"sync"
)

// Tab 描述一个可投递消息的标签页。Endpoint 为空表示进程内投递。
type Tab struct {
	ID       int    `json:"id"`
	URL      string `json:"url,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// TabQuerier 解析当前活动且最近获得焦点的标签页，没有时返回 ok=false。
type TabQuerier interface {
	ActiveTab(ctx context.Context) (Tab, bool, error)
}

// TabRegistry 是按焦点顺序维护标签页的内存实现。
type TabRegistry struct {
	mu       sync.Mutex
	nextID   int
	focusSeq uint64
	tabs     map[int]*tabEntry
}

type tabEntry struct {
	tab      Tab
	focusSeq uint64
}

// NewTabRegistry 构造空注册表。
func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[int]*tabEntry)}
}

// Open 新增标签页，新标签页自动获得焦点。
func (r *TabRegistry) Open(url, endpoint string) Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.focusSeq++
	tab := Tab{ID: r.nextID, URL: url, Endpoint: endpoint}
	r.tabs[tab.ID] = &tabEntry{tab: tab, focusSeq: r.focusSeq}
	return tab
}

// Focus 将标签页标记为最近获得焦点，不存在时返回 false。
func (r *TabRegistry) Focus(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tabs[id]
	if !ok {
		return false
	}
	r.focusSeq++
	entry.focusSeq = r.focusSeq
	return true
}

// Navigate 更新标签页 URL。
func (r *TabRegistry) Navigate(id int, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.tabs[id]; ok {
		entry.tab.URL = url
	}
}

// Close 移除标签页，重复关闭是安全的。
func (r *TabRegistry) Close(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, id)
}

// Len 返回打开的标签页数量。
func (r *TabRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// ActiveTab 实现 TabQuerier。
func (r *TabRegistry) ActiveTab(ctx context.Context) (Tab, bool, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *tabEntry
	for _, entry := range r.tabs {
		if best == nil || entry.focusSeq > best.focusSeq {
			best = entry
		}
	}
	if best == nil {
		return Tab{}, false, nil
	}
	return best.tab, true, nil
}
