package lifecycle

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client 描述一个受 agent 控制的页面（以 cookie 标识）。
type Client struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Focused    bool      `json:"focused"`
	Controller string    `json:"controller,omitempty"`
	SeenAt     time.Time `json:"seen_at"`
}

type clientEntry struct {
	Client
	worker *Worker
}

// Clients 记录所有打开的页面及其控制者。
type Clients struct {
	mu      sync.RWMutex
	entries map[string]*clientEntry
	now     func() time.Time
}

// NewClients 创建空的页面表。
func NewClients() *Clients {
	return &Clients{
		entries: make(map[string]*clientEntry),
		now:     time.Now,
	}
}

// Register 在导航时登记页面。id 为空时分配新 ID；已有页面只更新地址，
// 不改变控制者，尚未受控的页面交给 controller。
func (c *Clients) Register(id, pageURL string, controller *Worker) Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	entry, ok := c.entries[id]
	if !ok {
		entry = &clientEntry{Client: Client{ID: id}}
		c.entries[id] = entry
	}
	entry.URL = pageURL
	entry.SeenAt = c.now()
	if entry.worker == nil && controller != nil {
		entry.worker = controller
		entry.Controller = controller.ID()
	}
	return entry.Client
}

// Controller 返回页面当前的控制者，未知页面返回 nil。
func (c *Clients) Controller(id string) *Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.entries[id]; ok {
		return entry.worker
	}
	return nil
}

// Claim 让 w 接管全部页面，页面无需重新加载。返回被接管的页面数。
func (c *Clients) Claim(w *Worker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		entry.worker = w
		entry.Controller = w.ID()
	}
	return len(c.entries)
}

// OpenWindow 聚焦一个已打开该地址的页面，没有时新建一个页面。
func (c *Clients) OpenWindow(ctx context.Context, target string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return Client{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var match *clientEntry
	for _, entry := range c.entries {
		if samePage(entry.URL, target) && (match == nil || entry.SeenAt.After(match.SeenAt)) {
			match = entry
		}
	}
	if match == nil {
		match = &clientEntry{Client: Client{ID: uuid.NewString(), URL: target}}
		c.entries[match.ID] = match
		// 新窗口由当前任意页面的控制者接管。
		for _, entry := range c.entries {
			if entry.worker != nil {
				match.worker = entry.worker
				match.Controller = entry.Controller
				break
			}
		}
	}
	for _, entry := range c.entries {
		entry.Focused = entry == match
	}
	match.SeenAt = c.now()
	return match.Client, nil
}

// List 按 ID 排序返回全部页面。
func (c *Clients) List() []Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Client, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry.Client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// samePage 比较路径与查询串，忽略 scheme/host，便于相对地址与绝对地址互相匹配。
func samePage(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	pa, pb := ua.Path, ub.Path
	if pa == "" {
		pa = "/"
	}
	if pb == "" {
		pb = "/"
	}
	return pa == pb && ua.RawQuery == ub.RawQuery
}
