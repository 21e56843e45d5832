// 进程内集合通信：W 个 goroutine worker 共享一个枢纽，以循环栅栏实现集合语义
// 背景：单机运行时以 goroutine 代替多进程，语义与多进程后端一致，便于测试与小规模作业
package comm

import (
	"fmt"
	"sync"
)

// hub：组内共享状态；所有字段由 mu 保护
type hub struct {
	size int
	mu   sync.Mutex
	cond *sync.Cond

	gen     uint64
	arrived int

	slot    []byte   // 广播载荷槽位
	parts   [][]bool // 各 rank 的归约输入
	reduced []bool   // 归约结果（两道栅栏之间有效）

	aborted error
}

// Local：进程内端点
type Local struct {
	h    *hub
	rank int
}

// NewLocalGroup：创建 size 个共享同一枢纽的端点
func NewLocalGroup(size int) ([]*Local, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: group size %d < 1", size)
	}
	h := &hub{size: size, parts: make([][]bool, size)}
	h.cond = sync.NewCond(&h.mu)
	group := make([]*Local, size)
	for r := 0; r < size; r++ {
		group[r] = &Local{h: h, rank: r}
	}
	return group, nil
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.h.size }

// await：循环栅栏；最后到达者在持锁状态下执行 prepare 再放行全组
func (h *hub) await(prepare func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aborted != nil {
		return h.aborted
	}
	gen := h.gen
	h.arrived++
	if h.arrived == h.size {
		h.arrived = 0
		h.gen++
		if prepare != nil {
			prepare()
		}
		h.cond.Broadcast()
		return h.aborted
	}
	for gen == h.gen && h.aborted == nil {
		h.cond.Wait()
	}
	return h.aborted
}

// Barrier：空栅栏
func (l *Local) Barrier() error {
	return l.h.await(nil)
}

// Bcast：root 先写槽位，首道栅栏后全员读取，次道栅栏清槽
// 约束：非 root 成员到达首道栅栏前 root 必已写入，读取无竞争
func (l *Local) Bcast(root int, buf []byte) ([]byte, error) {
	h := l.h
	if root < 0 || root >= h.size {
		return nil, fmt.Errorf("comm: bcast root %d out of range", root)
	}
	h.mu.Lock()
	if l.rank == root {
		h.slot = buf
	}
	h.mu.Unlock()
	if err := h.await(nil); err != nil {
		return nil, err
	}
	h.mu.Lock()
	out := h.slot
	h.mu.Unlock()
	if err := h.await(func() { h.slot = nil }); err != nil {
		return nil, err
	}
	return out, nil
}

// AllReduceOr：各端提交局部数组，最后到达者校验长度并计算逻辑或
func (l *Local) AllReduceOr(local []bool) ([]bool, error) {
	h := l.h
	h.mu.Lock()
	h.parts[l.rank] = local
	h.mu.Unlock()
	err := h.await(func() {
		n := len(h.parts[0])
		for r, p := range h.parts {
			if len(p) != n {
				h.abortLocked(fmt.Errorf("%w: rank %d has %d elements, rank 0 has %d",
					ErrLengthMismatch, r, len(p), n))
				return
			}
		}
		red := make([]bool, n)
		for _, p := range h.parts {
			for i, v := range p {
				if v {
					red[i] = true
				}
			}
		}
		h.reduced = red
	})
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	out := append([]bool(nil), h.reduced...)
	h.mu.Unlock()
	if err := h.await(func() {
		h.reduced = nil
		h.parts = make([][]bool, h.size)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Abort：标记整组终止并唤醒所有等待者
func (l *Local) Abort(err error) {
	h := l.h
	h.mu.Lock()
	h.abortLocked(err)
	h.mu.Unlock()
}

func (h *hub) abortLocked(err error) {
	if h.aborted == nil {
		h.aborted = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	h.cond.Broadcast()
}
