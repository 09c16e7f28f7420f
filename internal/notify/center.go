package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/discussionblog/offline-agent/internal/lifecycle"
)

const (
	DefaultTitle    = "New Content Available"
	DefaultBody     = "Check out the latest posts on the blog!"
	DefaultIcon     = "/favicon"
	DefaultClickURL = "/"
)

// ErrNotificationNotFound 表示通知不存在或已被关闭。
var ErrNotificationNotFound = errors.New("notification not found")

// WindowOpener 打开或聚焦一个页面。
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) (lifecycle.Client, error)
}

// Template 是推送通知的展示内容，空字段使用默认值。
type Template struct {
	Title    string
	Body     string
	Icon     string
	Badge    string
	ClickURL string
}

func (t Template) withDefaults() Template {
	if t.Title == "" {
		t.Title = DefaultTitle
	}
	if t.Body == "" {
		t.Body = DefaultBody
	}
	if t.Icon == "" {
		t.Icon = DefaultIcon
	}
	if t.Badge == "" {
		t.Badge = t.Icon
	}
	if t.ClickURL == "" {
		t.ClickURL = DefaultClickURL
	}
	return t
}

// Notification 是一条正在展示的通知。
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Center 展示推送通知并处理点击。
type Center struct {
	template Template
	opener   WindowOpener
	logger   *logrus.Logger

	mu     sync.Mutex
	active map[string]Notification
}

// NewCenter 创建通知中心。
func NewCenter(template Template, opener WindowOpener, logger *logrus.Logger) *Center {
	return &Center{
		template: template.withDefaults(),
		opener:   opener,
		logger:   logger,
		active:   make(map[string]Notification),
	}
}

// HandlePush 收到推送后展示固定内容的通知，推送负载不参与展示。
func (c *Center) HandlePush(ctx context.Context, payload []byte) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:        uuid.NewString(),
		Title:     c.template.Title,
		Body:      c.template.Body,
		Icon:      c.template.Icon,
		Badge:     c.template.Badge,
		URL:       c.template.ClickURL,
		CreatedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.active[n.ID] = n
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"action":          "push",
		"notification_id": n.ID,
		"payload_bytes":   len(payload),
	}).Info("notification_shown")
	return n, nil
}

// HandleClick 关闭通知并打开（或聚焦）通知指向的页面。
func (c *Center) HandleClick(ctx context.Context, id string) (lifecycle.Client, error) {
	c.mu.Lock()
	n, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()
	if !ok {
		return lifecycle.Client{}, ErrNotificationNotFound
	}

	client, err := c.opener.OpenWindow(ctx, n.URL)
	fields := logrus.Fields{"action": "notification_click", "notification_id": id, "url": n.URL}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("open_window_failed")
		return lifecycle.Client{}, err
	}
	c.logger.WithFields(fields).WithField("client_id", client.ID).Info("window_opened")
	return client, nil
}

// List 返回仍在展示的通知，按创建时间排序。
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
