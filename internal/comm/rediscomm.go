// Redis 后端集合通信：多进程 worker 以共享 Redis 为会合点
// 背景：无 MPI 运行时的环境下，按 run id 汇合的固定进程组通过带序号的键实现集合语义
// 约束：所有成员必须以相同的调用序列执行集合操作，序号由每端本地递增保持一致
package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"gz-mask/internal/logger"
)

// RedisComm：多进程端点
type RedisComm struct {
	c      *redis.Client
	prefix string
	rank   int
	size   int
	seq    uint64

	pollEvery time.Duration
	deadline  time.Duration // 0 表示无限等待（集合模型默认）
	ttl       time.Duration
}

// NewRedisComm：以 run id 汇合的端点；GZ_COMM_TIMEOUT 可选设置停滞上限
// 背景：默认无限等待与集合模型一致；设置上限可把停滞成员转化为全组报错
func NewRedisComm(c *redis.Client, runID string, rank, size int) (*RedisComm, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: group size %d < 1", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("comm: rank %d out of range [0,%d)", rank, size)
	}
	rc := &RedisComm{
		c:         c,
		prefix:    "gz:" + runID,
		rank:      rank,
		size:      size,
		pollEvery: 20 * time.Millisecond,
		ttl:       time.Hour,
	}
	if v := os.Getenv("GZ_COMM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("comm: bad GZ_COMM_TIMEOUT %q: %w", v, err)
		}
		rc.deadline = d
	}
	return rc, nil
}

func (rc *RedisComm) Rank() int { return rc.rank }
func (rc *RedisComm) Size() int { return rc.size }

// poll：轮询直至 fetch 判定完成；每轮检查全组中止键与可选的停滞上限
func (rc *RedisComm) poll(fetch func(ctx context.Context) (bool, error)) error {
	ctx := context.Background()
	start := time.Now()
	for {
		if cause, err := rc.c.Get(ctx, rc.prefix+":abort").Result(); err == nil {
			return fmt.Errorf("%w: %s", ErrAborted, cause)
		} else if err != redis.Nil {
			return fmt.Errorf("comm: redis: %w", err)
		}
		done, err := fetch(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if rc.deadline > 0 && time.Since(start) > rc.deadline {
			err := fmt.Errorf("comm: collective timed out after %s", rc.deadline)
			rc.Abort(err)
			return err
		}
		time.Sleep(rc.pollEvery)
	}
}

// Barrier：INCR 到达计数，轮询至全员到齐
func (rc *RedisComm) Barrier() error {
	rc.seq++
	key := fmt.Sprintf("%s:bar:%d", rc.prefix, rc.seq)
	ctx := context.Background()
	n, err := rc.c.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("comm: barrier arrive: %w", err)
	}
	rc.c.Expire(ctx, key, rc.ttl)
	if n >= int64(rc.size) {
		return nil
	}
	return rc.poll(func(ctx context.Context) (bool, error) {
		v, err := rc.c.Get(ctx, key).Int64()
		if err == redis.Nil {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("comm: barrier wait: %w", err)
		}
		return v >= int64(rc.size), nil
	})
}

// Bcast：root 写入载荷键，其余成员轮询读取
func (rc *RedisComm) Bcast(root int, buf []byte) ([]byte, error) {
	if root < 0 || root >= rc.size {
		return nil, fmt.Errorf("comm: bcast root %d out of range", root)
	}
	rc.seq++
	key := fmt.Sprintf("%s:bcast:%d", rc.prefix, rc.seq)
	ctx := context.Background()
	if rc.rank == root {
		if err := rc.c.Set(ctx, key, buf, rc.ttl).Err(); err != nil {
			return nil, fmt.Errorf("comm: bcast publish: %w", err)
		}
		return buf, nil
	}
	var out []byte
	err := rc.poll(func(ctx context.Context) (bool, error) {
		b, err := rc.c.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("comm: bcast wait: %w", err)
		}
		out = b
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllReduceOr：各端发布位压缩载荷，全员取齐后本地做逻辑或
// 背景：逻辑或满足交换律与结合律，各端独立合并即可得到一致结果
func (rc *RedisComm) AllReduceOr(local []bool) ([]bool, error) {
	rc.seq++
	ctx := context.Background()
	key := fmt.Sprintf("%s:red:%d:%d", rc.prefix, rc.seq, rc.rank)
	if err := rc.c.Set(ctx, key, packBools(local), rc.ttl).Err(); err != nil {
		return nil, fmt.Errorf("comm: reduce publish: %w", err)
	}
	out := append([]bool(nil), local...)
	for r := 0; r < rc.size; r++ {
		if r == rc.rank {
			continue
		}
		peerKey := fmt.Sprintf("%s:red:%d:%d", rc.prefix, rc.seq, r)
		var part []bool
		err := rc.poll(func(ctx context.Context) (bool, error) {
			b, err := rc.c.Get(ctx, peerKey).Bytes()
			if err == redis.Nil {
				return false, nil
			}
			if err != nil {
				return false, fmt.Errorf("comm: reduce wait: %w", err)
			}
			part = unpackBools(b)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if len(part) != len(out) {
			err := fmt.Errorf("%w: rank %d has %d elements, rank %d has %d",
				ErrLengthMismatch, r, len(part), rc.rank, len(out))
			rc.Abort(err)
			return nil, err
		}
		for i, v := range part {
			if v {
				out[i] = true
			}
		}
	}
	return out, nil
}

// Abort：写入全组中止键；轮询中的成员在下一轮看到后返回 ErrAborted
func (rc *RedisComm) Abort(err error) {
	ctx := context.Background()
	if e := rc.c.SetNX(ctx, rc.prefix+":abort", err.Error(), rc.ttl).Err(); e != nil {
		logger.R(rc.rank).Error("abort_publish_error", "err", e)
	}
}

// packBools：布尔数组位压缩，头部 8 字节记录元素个数
func packBools(b []bool) []byte {
	out := make([]byte, 8+(len(b)+7)/8)
	binary.BigEndian.PutUint64(out, uint64(len(b)))
	for i, v := range b {
		if v {
			out[8+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func unpackBools(p []byte) []bool {
	if len(p) < 8 {
		return nil
	}
	n := int(binary.BigEndian.Uint64(p))
	if n < 0 || (len(p)-8)*8 < n {
		return nil
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = p[8+i/8]&(1<<uint(i%8)) != 0
	}
	return out
}
