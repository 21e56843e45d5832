// 包 mask：光子点的接地带隶属掩膜计算与集合归约
// 背景：每个 rank 只对自己分到的点做含判定，局部结果经逻辑或全归约得到全量一致掩膜
package mask

import (
	"encoding/binary"
	"fmt"
	"time"

	"gz-mask/internal/comm"
	"gz-mask/internal/geometry"
	"gz-mask/internal/logger"
	"gz-mask/internal/metrics"
	"gz-mask/internal/partition"
)

// PartialMask：单个 rank 的局部掩膜，全量长度，分区之外恒为 false
type PartialMask []bool

// ReducedMask：全归约后的权威掩膜，所有 rank 上内容一致
// 背景：与 PartialMask 分为两个类型，使归约步骤的输入输出契约显式可测
type ReducedMask []bool

// Any：掩膜中是否存在真值
func (m ReducedMask) Any() bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}

// Count：真值个数
func (m ReducedMask) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// Evaluate：对分区内的点做逐多边形含判定
// 背景：先用多边形包围盒与分区点云包围盒做粗判，粗判不过的多边形整体跳过（优化而非正确性条件）
// 约束：x/y 为全量平面坐标；结果按任一多边形命中即真，点不会被重复计数
func Evaluate(ps *geometry.PolygonSet, x, y []float64, idx []int) PartialMask {
	pm := make(PartialMask, len(x))
	if len(idx) == 0 {
		return pm
	}
	pb := partitionBounds(x, y, idx)
	masked := 0
	for p := 0; p < ps.Len(); p++ {
		b := ps.Bounds(p)
		if !b.Overlaps(pb) {
			metrics.PolygonsSkippedTotal.Inc()
			continue
		}
		for _, i := range idx {
			if pm[i] {
				continue
			}
			if !b.ContainsXY(x[i], y[i]) {
				continue
			}
			if ps.IntersectsXY(p, x[i], y[i]) {
				pm[i] = true
				masked++
			}
		}
	}
	metrics.PointsTestedTotal.Add(float64(len(idx)))
	metrics.PointsMaskedTotal.Add(float64(masked))
	return pm
}

// Reduce：局部掩膜的逻辑或全归约，随后栅栏
// 约束：归约前先以 rank 0 的点数为准做一致性预检，长度不一致是致命输入错误，必须在集合操作前整组终止
func Reduce(c comm.Comm, pm PartialMask) (ReducedMask, error) {
	var hdr []byte
	if c.Rank() == 0 {
		hdr = make([]byte, 8)
		binary.BigEndian.PutUint64(hdr, uint64(len(pm)))
	}
	hdr, err := c.Bcast(0, hdr)
	if err != nil {
		return nil, err
	}
	if len(hdr) != 8 {
		return nil, fmt.Errorf("mask: malformed length header from rank 0")
	}
	n0 := int(binary.BigEndian.Uint64(hdr))
	if n0 != len(pm) {
		err := fmt.Errorf("mask: beam point count mismatch: rank %d has %d points, rank 0 has %d",
			c.Rank(), len(pm), n0)
		c.Abort(err)
		return nil, err
	}
	red, err := c.AllReduceOr(pm)
	if err != nil {
		return nil, err
	}
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	metrics.BeamsReducedTotal.Inc()
	return ReducedMask(red), nil
}

// ReduceBeam：单条光束的完整掩膜流程（划分、判定、归约）
func ReduceBeam(c comm.Comm, ps *geometry.PolygonSet, x, y []float64) (ReducedMask, error) {
	if len(x) != len(y) {
		err := fmt.Errorf("mask: x/y length mismatch (%d != %d)", len(x), len(y))
		c.Abort(err)
		return nil, err
	}
	start := time.Now()
	idx, err := partition.Stride(len(x), c.Rank(), c.Size())
	if err != nil {
		c.Abort(err)
		return nil, err
	}
	pm := Evaluate(ps, x, y, idx)
	red, err := Reduce(c, pm)
	if err != nil {
		return nil, err
	}
	metrics.ReduceDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	logger.R(c.Rank()).Debug("beam_reduced", "points", len(x), "masked", red.Count())
	return red, nil
}

func partitionBounds(x, y []float64, idx []int) geometry.Bounds {
	b := geometry.Bounds{MinX: x[idx[0]], MaxX: x[idx[0]], MinY: y[idx[0]], MaxY: y[idx[0]]}
	for _, i := range idx[1:] {
		if x[i] < b.MinX {
			b.MinX = x[i]
		}
		if x[i] > b.MaxX {
			b.MaxX = x[i]
		}
		if y[i] < b.MinY {
			b.MinY = y[i]
		}
		if y[i] > b.MaxY {
			b.MaxY = y[i]
		}
	}
	return b
}
