package risk

import (
	"fmt"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开（处于暂停交易窗口内），禁止继续开仓。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// circuitBreaker 基于截止时间的暂停交易开关。
//
// 说明：
//   - 不使用后台定时器；每次检查时用传入的 now 惰性判断是否到期。
//   - 到期后由 expire 切回 ACTIVE，调用方继续正常评估。
type circuitBreaker struct {
	halted bool
	until  time.Time
	reason string
}

// trip 打开断路器直到 until；已打开时取更晚的截止时间
func (cb *circuitBreaker) trip(until time.Time, reason string) {
	if cb.halted && cb.until.After(until) {
		return
	}
	cb.halted = true
	cb.until = until
	cb.reason = reason
}

// open 当前是否处于暂停窗口（now <= until）
func (cb *circuitBreaker) open(now time.Time) bool {
	return cb.halted && !now.After(cb.until)
}

// expire 暂停窗口已过则恢复，返回是否发生了恢复
func (cb *circuitBreaker) expire(now time.Time) bool {
	if !cb.halted || !now.After(cb.until) {
		return false
	}
	cb.reset()
	return true
}

// reset 手动恢复
func (cb *circuitBreaker) reset() {
	cb.halted = false
	cb.until = time.Time{}
	cb.reason = ""
}

// allow 快路径检查是否允许开仓
func (cb *circuitBreaker) allow(now time.Time) error {
	if cb.open(now) {
		return fmt.Errorf("%w until %s: %s", ErrCircuitBreakerOpen, cb.until.Format(time.RFC3339), cb.reason)
	}
	return nil
}
