package comm

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run：每个 rank 一个 goroutine 执行 fn，返回各 rank 的错误
func run(t *testing.T, size int, fn func(c *Local) error) []error {
	t.Helper()
	group, err := NewLocalGroup(size)
	require.NoError(t, err)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(group[r])
		}(r)
	}
	wg.Wait()
	return errs
}

func TestBcast(t *testing.T) {
	payload := []byte("polygon rings")
	errs := run(t, 4, func(c *Local) error {
		var buf []byte
		if c.Rank() == 0 {
			buf = payload
		}
		got, err := c.Bcast(0, buf)
		if err != nil {
			return err
		}
		assert.Equal(t, payload, got)
		return nil
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestAllReduceOr(t *testing.T) {
	// rank r 标记索引 r 与索引 7
	errs := run(t, 3, func(c *Local) error {
		local := make([]bool, 8)
		local[c.Rank()] = true
		local[7] = true
		got, err := c.AllReduceOr(local)
		if err != nil {
			return err
		}
		want := []bool{true, true, true, false, false, false, false, true}
		assert.Equal(t, want, got)
		return nil
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

// 归约次序无关：交换哪个 rank 先发现某个真值不改变结果
func TestAllReduceOrOrderIndependent(t *testing.T) {
	for _, owner := range []int{0, 1} {
		owner := owner
		errs := run(t, 2, func(c *Local) error {
			local := make([]bool, 4)
			if c.Rank() == owner {
				local[2] = true
			}
			got, err := c.AllReduceOr(local)
			if err != nil {
				return err
			}
			assert.Equal(t, []bool{false, false, true, false}, got)
			return nil
		})
		for _, err := range errs {
			assert.NoError(t, err)
		}
	}
}

func TestAllReduceOrRepeatedRounds(t *testing.T) {
	// 连续多轮归约验证栅栏代际复位正确
	errs := run(t, 2, func(c *Local) error {
		for round := 0; round < 5; round++ {
			local := make([]bool, 3)
			local[round%3] = c.Rank() == round%2
			got, err := c.AllReduceOr(local)
			if err != nil {
				return err
			}
			want := make([]bool, 3)
			want[round%3] = true
			assert.Equal(t, want, got)
			if err := c.Barrier(); err != nil {
				return err
			}
		}
		return nil
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestAllReduceOrLengthMismatchAbortsGroup(t *testing.T) {
	errs := run(t, 2, func(c *Local) error {
		n := 8
		if c.Rank() == 1 {
			n = 9
		}
		_, err := c.AllReduceOr(make([]bool, n))
		return err
	})
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAborted))
	}
}

func TestAbortUnblocksWaiters(t *testing.T) {
	cause := errors.New("boundary file unreadable")
	errs := run(t, 3, func(c *Local) error {
		if c.Rank() == 2 {
			c.Abort(cause)
			return c.Barrier()
		}
		return c.Barrier()
	})
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAborted))
	}
}

func TestNewLocalGroupRejectsZero(t *testing.T) {
	_, err := NewLocalGroup(0)
	assert.Error(t, err)
}

func TestPackUnpackBools(t *testing.T) {
	in := []bool{true, false, true, true, false, false, false, true, true, false}
	assert.Equal(t, in, unpackBools(packBools(in)))
	assert.Equal(t, []bool{}, unpackBools(packBools([]bool{})))
}
