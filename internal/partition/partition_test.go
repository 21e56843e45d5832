package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 覆盖性：任意 n、size 下各 rank 并集恰为 {0..n-1}，无重复无遗漏
func TestStrideCoverage(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 10, 101} {
		for _, size := range []int{1, 2, 3, 8, 200} {
			seen := make([]int, n)
			for rank := 0; rank < size; rank++ {
				idx, err := Stride(n, rank, size)
				require.NoError(t, err)
				for j := 1; j < len(idx); j++ {
					assert.Greater(t, idx[j], idx[j-1])
				}
				for _, i := range idx {
					require.Less(t, i, n)
					seen[i]++
				}
			}
			for i := 0; i < n; i++ {
				assert.Equal(t, 1, seen[i], "n=%d size=%d index=%d", n, size, i)
			}
		}
	}
}

func TestStrideValues(t *testing.T) {
	idx, err := Stride(10, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5, 9}, idx)
}

func TestStrideEmptyWhenFewPoints(t *testing.T) {
	idx, err := Stride(2, 3, 5)
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestStrideRejectsBadArgs(t *testing.T) {
	_, err := Stride(10, 0, 0)
	assert.Error(t, err)
	_, err = Stride(10, 4, 4)
	assert.Error(t, err)
	_, err = Stride(10, -1, 4)
	assert.Error(t, err)
	_, err = Stride(-1, 0, 1)
	assert.Error(t, err)
}
