// 包 project：地理坐标到平面坐标的批量投影
// 背景：掩膜判定在边界数据的极地立体投影平面内进行，经纬度需整组换算
package project

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// WGS84：输入经纬度的坐标系定义（EPSG:4326）
const WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

// Transform：将等长的经度/纬度数组换算为目标坐标系的 x/y 数组
// 约束：lon 与 lat 必须等长；任何一点换算失败则整组失败
func Transform(srcProj4, dstProj4 string, lon, lat []float64) (x, y []float64, err error) {
	if len(lon) != len(lat) {
		return nil, nil, fmt.Errorf("project: longitude/latitude length mismatch (%d != %d)", len(lon), len(lat))
	}
	src, err := proj.Parse(srcProj4)
	if err != nil {
		return nil, nil, fmt.Errorf("project: parse source CRS: %w", err)
	}
	dst, err := proj.Parse(dstProj4)
	if err != nil {
		return nil, nil, fmt.Errorf("project: parse target CRS: %w", err)
	}
	tr, err := src.NewTransform(dst)
	if err != nil {
		return nil, nil, fmt.Errorf("project: build transform: %w", err)
	}
	x = make([]float64, len(lon))
	y = make([]float64, len(lon))
	for i := range lon {
		g, err := geom.Point{X: lon[i], Y: lat[i]}.Transform(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("project: point %d: %w", i, err)
		}
		p := g.(geom.Point)
		x[i], y[i] = p.X, p.Y
	}
	return x, y, nil
}
