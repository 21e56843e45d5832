// 包 geometry：接地带缓冲多边形集合的加载、修复与包含判定
// 背景：边界以 shapefile 分发（北：格陵兰，南：南极），记录可带洞；判定语义为边界含点
package geometry

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path/filepath"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/twpayne/go-geos"

	"gz-mask/internal/logger"
	"gz-mask/internal/metrics"
)

// Bounds：粗判用包围盒
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Overlaps：两包围盒是否相交（边界相接视为相交）
func (b Bounds) Overlaps(o Bounds) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// ContainsXY：点是否落在包围盒内（含边界）
func (b Bounds) ContainsXY(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// PolygonSet：多边形集合，环坐标可随 gob 广播，GEOS 句柄在各 rank 本地重建
// 约束：广播后只读共享；Build 之后不得再修改环数据
type PolygonSet struct {
	SourceFile string
	Proj4      string
	// Rings[i] 为第 i 个多边形的环列表：首环为外环，其余为洞
	Rings [][][][]float64

	geoms  []*geos.Geom
	bounds []Bounds
}

// Load：读取缓冲 shapefile 并构建多边形集合（仅 rank 0 调用）
// 背景：每条记录的坐标已是极地立体投影平面坐标；记录几何为 Polygon 或 MultiPolygon
func Load(dir, name, proj4 string) (*PolygonSet, error) {
	path := filepath.Join(dir, name)
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("geometry: open %s: %w", path, err)
	}
	defer d.Close()
	ps := &PolygonSet{SourceFile: name, Proj4: proj4}
	for {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		switch p := g.(type) {
		case geom.Polygon:
			ps.Rings = append(ps.Rings, ringsOf(p))
		case geom.MultiPolygon:
			for _, sub := range p {
				ps.Rings = append(ps.Rings, ringsOf(sub))
			}
		default:
			return nil, fmt.Errorf("geometry: %s: record is not polygonal (%T)", name, g)
		}
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("geometry: decode %s: %w", path, err)
	}
	if len(ps.Rings) == 0 {
		return nil, fmt.Errorf("geometry: %s contains no polygon records", name)
	}
	if err := ps.Build(); err != nil {
		return nil, err
	}
	return ps, nil
}

func ringsOf(p geom.Polygon) [][][]float64 {
	rings := make([][][]float64, len(p))
	for i, ring := range p {
		coords := make([][]float64, len(ring))
		for j, pt := range ring {
			coords[j] = []float64{pt.X, pt.Y}
		}
		rings[i] = coords
	}
	return rings
}

// Build：由环坐标重建 GEOS 几何并计算包围盒
// 背景：GEOS 句柄不可序列化，广播接收方必须本地重建；无效多边形零距离缓冲修复
func (ps *PolygonSet) Build() error {
	ps.geoms = make([]*geos.Geom, len(ps.Rings))
	ps.bounds = make([]Bounds, len(ps.Rings))
	for i, rings := range ps.Rings {
		g := geos.NewPolygon(rings)
		if g == nil {
			return fmt.Errorf("geometry: polygon %d of %s could not be constructed", i, ps.SourceFile)
		}
		ps.geoms[i] = Repair(g)
		ps.bounds[i] = ringBounds(rings[0])
	}
	metrics.PolygonsTotal.Set(float64(len(ps.geoms)))
	return nil
}

// Repair：无效多边形做零距离缓冲修复；有效多边形原样返回
// 约束：尽力修复，不保证结果有效；修复记为告警事件而非错误
func Repair(g *geos.Geom) *geos.Geom {
	if g.IsValid() {
		return g
	}
	reason := g.IsValidReason()
	repaired := g.Buffer(0, 8)
	g.Destroy()
	metrics.PolygonRepairsTotal.Inc()
	logger.L().Warn("polygon_repaired", "reason", reason)
	return repaired
}

// Len：多边形个数
func (ps *PolygonSet) Len() int { return len(ps.Rings) }

// Bounds：第 i 个多边形外环的包围盒
func (ps *PolygonSet) Bounds(i int) Bounds { return ps.bounds[i] }

// IntersectsXY：点与第 i 个多边形是否相交（含边界；洞内为否）
func (ps *PolygonSet) IntersectsXY(i int, x, y float64) bool {
	pt := geos.NewPoint([]float64{x, y})
	defer pt.Destroy()
	return ps.geoms[i].Intersects(pt)
}

// Contains：点是否落入集合中任一多边形
func (ps *PolygonSet) Contains(x, y float64) bool {
	for i := range ps.geoms {
		if ps.bounds[i].ContainsXY(x, y) && ps.IntersectsXY(i, x, y) {
			return true
		}
	}
	return false
}

// NewFromRings：由环坐标直接构建集合，供测试与合成场景
func NewFromRings(rings [][][][]float64, proj4 string) (*PolygonSet, error) {
	ps := &PolygonSet{SourceFile: "inline", Proj4: proj4, Rings: rings}
	if err := ps.Build(); err != nil {
		return nil, err
	}
	return ps, nil
}

// Encode：序列化为广播载荷（仅环坐标与元信息）
func (ps *PolygonSet) Encode() ([]byte, error) {
	var buf bytes.Buffer
	wire := PolygonSet{SourceFile: ps.SourceFile, Proj4: ps.Proj4, Rings: ps.Rings}
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, fmt.Errorf("geometry: encode polygon set: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode：反序列化并重建 GEOS 几何
func Decode(b []byte) (*PolygonSet, error) {
	ps := &PolygonSet{}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(ps); err != nil {
		return nil, fmt.Errorf("geometry: decode polygon set: %w", err)
	}
	if err := ps.Build(); err != nil {
		return nil, err
	}
	return ps, nil
}

func ringBounds(ring [][]float64) Bounds {
	b := Bounds{MinX: ring[0][0], MaxX: ring[0][0], MinY: ring[0][1], MaxY: ring[0][1]}
	for _, pt := range ring[1:] {
		if pt[0] < b.MinX {
			b.MinX = pt[0]
		}
		if pt[0] > b.MaxX {
			b.MaxX = pt[0]
		}
		if pt[1] < b.MinY {
			b.MinY = pt[1]
		}
		if pt[1] > b.MaxY {
			b.MaxY = pt[1]
		}
	}
	return b
}
