package mask

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gz-mask/internal/comm"
	"gz-mask/internal/geometry"
)

func square(x0, y0, x1, y1 float64) [][][]float64 {
	return [][][]float64{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func runGroup(t *testing.T, size int, fn func(c *comm.Local) error) {
	t.Helper()
	group, err := comm.NewLocalGroup(size)
	require.NoError(t, err)
	var wg sync.WaitGroup
	errs := make([]error, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(group[r])
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestEvaluatePartitionLocality(t *testing.T) {
	ps, err := geometry.NewFromRings([][][][]float64{square(0, 0, 100, 100)}, "")
	require.NoError(t, err)
	x := []float64{1, 2, 3, 4}
	y := []float64{1, 2, 3, 4}
	pm := Evaluate(ps, x, y, []int{1, 3})
	// 分区外的索引必须保持 false，即使点在多边形内
	assert.Equal(t, PartialMask{false, true, false, true}, pm)
}

func TestEvaluateEmptyPartition(t *testing.T) {
	ps, err := geometry.NewFromRings([][][][]float64{square(0, 0, 1, 1)}, "")
	require.NoError(t, err)
	pm := Evaluate(ps, []float64{5, 6}, []float64{5, 6}, nil)
	assert.Equal(t, PartialMask{false, false}, pm)
}

func TestEvaluateCoarseSkip(t *testing.T) {
	// 两个多边形：一个远离点云，粗判应跳过且不影响结果
	ps, err := geometry.NewFromRings([][][][]float64{
		square(0, 0, 10, 10),
		square(1000, 1000, 1010, 1010),
	}, "")
	require.NoError(t, err)
	x := []float64{5, 500}
	y := []float64{5, 500}
	pm := Evaluate(ps, x, y, []int{0, 1})
	assert.Equal(t, PartialMask{true, false}, pm)
}

// 掩膜单调性：归约后的真值当且仅当某个 rank 的局部掩膜为真
func TestReduceMonotonicity(t *testing.T) {
	runGroup(t, 3, func(c *comm.Local) error {
		pm := make(PartialMask, 6)
		pm[c.Rank()*2] = true
		red, err := Reduce(c, pm)
		if err != nil {
			return err
		}
		assert.Equal(t, ReducedMask{true, false, true, false, true, false}, red)
		return nil
	})
}

func TestReduceLengthMismatchFatal(t *testing.T) {
	group, err := comm.NewLocalGroup(2)
	require.NoError(t, err)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			n := 10
			if r == 1 {
				n = 11
			}
			_, errs[r] = Reduce(group[r], make(PartialMask, n))
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		require.Error(t, err)
	}
	// rank 1 在预检处失败，rank 0 因整组中止从集合操作返回
	assert.Contains(t, errs[1].Error(), "mismatch")
	assert.True(t, errors.Is(errs[0], comm.ErrAborted))
}

// 端到端场景：两个多边形、10 个点、2 个 worker，最终掩膜与点的归属 rank 无关
func TestReduceBeamEndToEnd(t *testing.T) {
	rings := [][][][]float64{
		square(-0.5, -0.5, 2.5, 0.5), // 覆盖点 0,1,2
		square(4.5, -0.5, 5.5, 0.5),  // 覆盖点 5
	}
	want := ReducedMask{true, true, true, false, false, true, false, false, false, false}
	x := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	y := make([]float64, 10)

	runGroup(t, 2, func(c *comm.Local) error {
		ps, err := geometry.NewFromRings(rings, "")
		if err != nil {
			return err
		}
		red, err := ReduceBeam(c, ps, x, y)
		if err != nil {
			return err
		}
		assert.Equal(t, want, red)
		return nil
	})
}

func TestReducedMaskAnyCount(t *testing.T) {
	assert.False(t, ReducedMask{false, false}.Any())
	assert.True(t, ReducedMask{false, true}.Any())
	assert.Equal(t, 2, ReducedMask{true, false, true}.Count())
}
