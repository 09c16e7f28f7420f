package strategy

import (
	"context"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/discussionblog/offline-agent/internal/fetch"
)

// Event 是一次拦截任务。WaitUntil 登记的后台工作不阻塞响应，
// 但任务在 Settle 返回之前不算结束，调用方负责在退出前等待。
type Event struct {
	ID      string
	Request *fetch.Request

	ctx context.Context
	wg  conc.WaitGroup
}

// NewEvent 为请求创建拦截任务并分配 ID。
func NewEvent(ctx context.Context, req *fetch.Request) *Event {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Event{
		ID:      uuid.NewString(),
		Request: req,
		ctx:     ctx,
	}
}

// Context 返回请求上下文。
func (e *Event) Context() context.Context {
	return e.ctx
}

// WaitUntil 在后台执行 fn。fn 拿到的上下文不会随请求结束而取消。
func (e *Event) WaitUntil(fn func(ctx context.Context)) {
	ctx := context.WithoutCancel(e.ctx)
	e.wg.Go(func() {
		fn(ctx)
	})
}

// Settle 等待全部后台工作结束，后台 panic 会转换为 error 返回。
func (e *Event) Settle() error {
	if recovered := e.wg.WaitAndRecover(); recovered != nil {
		return recovered.AsError()
	}
	return nil
}
