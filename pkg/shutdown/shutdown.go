package shutdown

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器：按注册的逆序依次关闭资源（后打开的先关闭）
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
	log       *logrus.Entry
}

// NewManager 创建新的关闭管理器
func NewManager(log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("module", "shutdown")
	}
	return &Manager{log: log}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Closer 适配 Close() error
func Closer(c interface{ Close() error }) Handler {
	return func(context.Context) error { return c.Close() }
}

// Shutdown 执行所有关闭回调，只执行一次；返回第一个错误。
// ctx 超时后剩余回调不再执行。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := m.callbacks
	m.callbacks = nil
	m.mu.Unlock()

	if len(callbacks) == 0 {
		m.log.Debug("没有注册的关闭回调")
		return nil
	}
	m.log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var first error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := ctx.Err(); err != nil {
			m.log.Warnf("关闭超时，跳过剩余 %d 个回调: %v", i+1, err)
			if first == nil {
				first = errors.Wrap(err, "shutdown")
			}
			break
		}
		if err := cb.fn(ctx); err != nil {
			m.log.WithError(err).Warnf("关闭 %s 失败", cb.name)
			if first == nil {
				first = errors.Wrapf(err, "close %s", cb.name)
			}
			continue
		}
		m.log.Debugf("已关闭 %s", cb.name)
	}
	if first == nil {
		m.log.Info("所有关闭回调已完成")
	}
	return first
}
