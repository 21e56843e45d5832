// 包 granule：ATL03 颗粒文件名解析与输出命名
// 背景：输入/输出文件名内嵌产品、日期、轨道、周期、区域等令牌，掩膜输出名由输入名确定性派生
package granule

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// 文件名令牌：(processed_)?ATLxx_YYYYMMDDHHMMSS_TTTTCCGG_RRR_VV(AUX).h5
var nameRx = regexp.MustCompile(`^(processed_)?(ATL\d{2})_(\d{4})(\d{2})(\d{2})(\d{2})(\d{2})(\d{2})_(\d{4})(\d{2})(\d{2})_(\d{3})_(\d{2})(.*?)\.h5$`)

// 光束组名：gt 加轨道号加左右标记
var beamRx = regexp.MustCompile(`^gt\d[lr]$`)

// Tokens：颗粒文件名分解后的各段
type Tokens struct {
	Processed bool
	Product   string
	Year      string
	Month     string
	Day       string
	Hour      string
	Minute    string
	Second    string
	Track     string
	Cycle     string
	Region    string
	Release   string
	Version   string
	Aux       string
}

// Parse：解析颗粒文件名（可带路径）
// 约束：不匹配产品命名规范时报错，调用方应在进入任何集合通信之前失败退出
func Parse(name string) (*Tokens, error) {
	base := filepath.Base(name)
	m := nameRx.FindStringSubmatch(base)
	if m == nil {
		return nil, fmt.Errorf("granule: unrecognized file name %q", base)
	}
	return &Tokens{
		Processed: m[1] != "",
		Product:   m[2],
		Year:      m[3],
		Month:     m[4],
		Day:       m[5],
		Hour:      m[6],
		Minute:    m[7],
		Second:    m[8],
		Track:     m[9],
		Cycle:     m[10],
		Region:    m[11],
		Release:   m[12],
		Version:   m[13],
		Aux:       m[14],
	}, nil
}

// MaskOutputName：派生掩膜输出文件名
// 背景：沿用输入令牌并以固定掩膜标识替换第二段，保证同一颗粒的输出名可复现
func (t *Tokens) MaskOutputName() string {
	return fmt.Sprintf("%s_GROUNDING_ZONE_MASK_%s%s%s%s%s%s_%s%s%s_%s_%s%s.h5",
		t.Product, t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second,
		t.Track, t.Cycle, t.Region, t.Release, t.Version, t.Aux)
}

// IsBeam：判断组名是否为光束组
func IsBeam(name string) bool {
	return beamRx.MatchString(name)
}

// Region：半球接地带边界数据的来源描述
type RegionInfo struct {
	Hemisphere     string
	ShapefileFmt   string // 以缓冲距离(km)格式化出 shapefile 文件名
	Description    string
	Reference      string
	Proj4          string // 极地立体投影定义，掩膜计算所用平面坐标系
}

// 区域表：北半球为格陵兰冰盖，南半球为南极冰盖与岛屿
// 约束：Proj4 与边界 shapefile 的坐标系一致（北 EPSG:3413，南 EPSG:3031）
var regions = map[string]RegionInfo{
	"N": {
		Hemisphere:   "N",
		ShapefileFmt: "grn_ice_sheet_buffer_%.0fkm.shp",
		Description:  "Greenland Mapping Project (GIMP) Ice & Ocean Mask",
		Reference:    "http://dx.doi.org/10.5194/tc-8-1509-2014",
		Proj4: "+proj=stere +lat_0=90 +lat_ts=70 +lon_0=-45 +k=1 " +
			"+x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
	},
	"S": {
		Hemisphere:   "S",
		ShapefileFmt: "ant_ice_sheet_islands_v2_buffer_%.0fkm.shp",
		Description: "MEaSUREs Antarctic Boundaries for IPY 2007-2009 " +
			"from Satellite_Radar, Version 2",
		Reference: "http://dx.doi.org/10.5067/IKBWW4RYHF1Q",
		Proj4: "+proj=stere +lat_0=-90 +lat_ts=-71 +lon_0=0 +k=1 " +
			"+x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
	},
}

// HemisphereRegion：由区域令牌确定半球并返回区域描述
// 背景：区域 03/04/05 对应北极观测段，10/11/12 对应南极观测段，其余区域不含冰盖接地带
func HemisphereRegion(regionToken string) (RegionInfo, error) {
	switch regionToken {
	case "03", "04", "05":
		return regions["N"], nil
	case "10", "11", "12":
		return regions["S"], nil
	}
	return RegionInfo{}, fmt.Errorf("granule: region token %q has no grounding zone coverage", regionToken)
}

// BufferedShapefile：返回指定缓冲距离的边界文件名
func (r RegionInfo) BufferedShapefile(bufferKm float64) string {
	return fmt.Sprintf(r.ShapefileFmt, bufferKm)
}
