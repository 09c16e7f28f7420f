package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// TagSyncPosts 是页面注册的文章同步标签。
const TagSyncPosts = "sync-posts"

// SyncFunc 执行某个同步标签对应的工作。
type SyncFunc func(ctx context.Context) error

// SyncHandler 按标签分发后台同步事件，未知标签直接忽略。
type SyncHandler struct {
	logger   *logrus.Logger
	handlers map[string]SyncFunc
}

// NewSyncHandler 注册 tags 中的标签。sync-posts 对应 syncPosts，其余标签同样视为文章同步。
func NewSyncHandler(logger *logrus.Logger, tags []string) *SyncHandler {
	h := &SyncHandler{logger: logger, handlers: make(map[string]SyncFunc)}
	if len(tags) == 0 {
		tags = []string{TagSyncPosts}
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		h.handlers[tag] = syncPosts
	}
	return h
}

// Tags 返回已注册的标签。
func (h *SyncHandler) Tags() []string {
	out := make([]string, 0, len(h.handlers))
	for tag := range h.handlers {
		out = append(out, tag)
	}
	return out
}

// Handle 执行标签对应的同步，返回是否识别了该标签。
func (h *SyncHandler) Handle(ctx context.Context, tag string) (bool, error) {
	fn, ok := h.handlers[tag]
	fields := logrus.Fields{"action": "sync", "tag": tag}
	if !ok {
		h.logger.WithFields(fields).Debug("sync_ignored")
		return false, nil
	}
	if err := fn(ctx); err != nil {
		h.logger.WithFields(fields).WithError(err).Warn("sync_failed")
		return true, err
	}
	h.logger.WithFields(fields).Info("sync_complete")
	return true, nil
}

// syncPosts 目前没有离线写入队列需要回放，直接完成。
func syncPosts(ctx context.Context) error {
	return ctx.Err()
}
