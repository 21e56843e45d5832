// 包 partition：点索引在 rank 间的确定性划分
package partition

import "fmt"

// Stride：返回 rank 在 {0..n-1} 上按步长划分的索引序列 {rank, rank+size, ...}
// 约束：各 rank 的序列互不重叠且并集恰覆盖全量；n < size 时部分 rank 得到空序列，不视为错误
func Stride(n, rank, size int) ([]int, error) {
	if size < 1 {
		return nil, fmt.Errorf("partition: worker count %d < 1", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("partition: rank %d out of range [0,%d)", rank, size)
	}
	if n < 0 {
		return nil, fmt.Errorf("partition: negative point count %d", n)
	}
	idx := make([]int, 0, (n+size-1-rank)/size)
	for i := rank; i < n; i += size {
		idx = append(idx, i)
	}
	return idx, nil
}
