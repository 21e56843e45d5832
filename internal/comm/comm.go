// 包 comm：固定成员的集合通信基座，提供广播、逻辑或全归约与栅栏
// 背景：全体 worker 以锁步方式通过集合操作推进；任何集合操作要么全员完成要么全员失败
// 约束：某个 worker 停滞会使其余成员阻塞在下一个集合操作上，这是集合模型的既定风险，不做静默规避
package comm

import "errors"

// ErrAborted：组内任一成员触发致命错误后，所有集合操作以该错误结束
// 背景：致命错误必须全组同时终止，否则幸存成员会在下一个集合操作上永久悬挂
var ErrAborted = errors.New("comm: group aborted")

// ErrLengthMismatch：全归约的各方数组长度不一致（输入一致性错误）
var ErrLengthMismatch = errors.New("comm: reduce length mismatch across ranks")

// Comm：单个 rank 持有的集合通信端点
// 约束：成员数与本端 rank 在进程启动时确定且不变；不提供子组变体
type Comm interface {
	// Rank：本端编号，0 <= Rank < Size
	Rank() int
	// Size：组内 worker 总数
	Size() int
	// Bcast：root 端的字节载荷广播至全组；所有成员必须以相同 root 调用
	Bcast(root int, buf []byte) ([]byte, error)
	// AllReduceOr：对各端布尔数组做按位逻辑或，结果在每个成员处一致可见
	AllReduceOr(local []bool) ([]bool, error)
	// Barrier：全组到齐后方可通过
	Barrier() error
	// Abort：以给定原因终止整组；所有阻塞中的集合操作返回 ErrAborted
	Abort(err error)
}
