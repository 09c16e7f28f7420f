package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/discussionblog/offline-agent/internal/logging"
)

// Registration 保存当前激活与等待中的 worker。Register/SkipWaiting 串行执行。
type Registration struct {
	clients *Clients
	logger  *logrus.Logger

	opMu sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

// NewRegistration 创建空注册表。
func NewRegistration(clients *Clients, logger *logrus.Logger) *Registration {
	return &Registration{clients: clients, logger: logger}
}

// Clients 返回受控页面表。
func (r *Registration) Clients() *Clients {
	return r.clients
}

// Active 返回当前激活的 worker，可能为 nil。
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting 返回已安装但尚未激活的 worker，可能为 nil。
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Controller 返回页面的控制者。未登记的页面由当前激活的 worker 处理。
func (r *Registration) Controller(clientID string) *Worker {
	if clientID != "" {
		if w := r.clients.Controller(clientID); w != nil {
			return w
		}
	}
	return r.Active()
}

// Register 安装 w。安装失败时原激活版本保持不变；安装成功后若 w 请求跳过等待
// 或当前没有激活版本则立即激活，否则进入等待。
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := w.Install(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	previousWaiting := r.waiting
	r.waiting = w
	noActive := r.active == nil
	r.mu.Unlock()
	if previousWaiting != nil && previousWaiting != w {
		previousWaiting.markRedundant()
		r.log("register", previousWaiting).Info("waiting_worker_replaced")
	}

	if w.SkipWaitingSignalled() || noActive {
		return r.promote(ctx, w)
	}
	r.log("register", w).Info("worker_waiting")
	return nil
}

// SkipWaiting 立即激活等待中的 worker。
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	w := r.Waiting()
	if w == nil {
		return ErrNoWaitingWorker
	}
	return r.promote(ctx, w)
}

func (r *Registration) promote(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		r.mu.Lock()
		if r.waiting == w {
			r.waiting = nil
		}
		r.mu.Unlock()
		r.log("activate", w).WithError(err).Error("activate_failed")
		return fmt.Errorf("activate %s: %w", w.Version(), err)
	}

	r.mu.Lock()
	previous := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if previous != nil && previous != w {
		previous.markRedundant()
		r.log("activate", previous).Info("worker_retired")
	}
	return nil
}

func (r *Registration) log(action string, w *Worker) *logrus.Entry {
	return r.logger.WithFields(logging.WorkerFields(action, w.Version(), string(w.State()))).
		WithField("worker_id", w.ID())
}
