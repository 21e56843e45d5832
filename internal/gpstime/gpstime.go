// 包 gpstime：GPS 秒与 UTC 的换算，供输出文件的时间覆盖属性使用
// 背景：delta_time 为相对 ATLAS SDP 历元的 GPS 秒，换算 UTC 需扣除 GPS 历元以来累计的闰秒
package gpstime

import "time"

// GPS 历元：1980-01-06T00:00:00Z
var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// 闰秒生效时刻（GPS 秒计），1981-07 至 2017-01
// 约束：新增闰秒时需要追加表项；表为严格递增
var leapEpochs = []float64{
	46828800,   // 1981-07-01
	78364801,   // 1982-07-01
	109900802,  // 1983-07-01
	173059203,  // 1985-07-01
	252028804,  // 1988-01-01
	315187205,  // 1990-01-01
	346723206,  // 1991-01-01
	393984007,  // 1992-07-01
	425520008,  // 1993-07-01
	457056009,  // 1994-07-01
	504489610,  // 1996-01-01
	551750411,  // 1997-07-01
	599184012,  // 1999-01-01
	820108813,  // 2006-01-01
	914803214,  // 2009-01-01
	1025136015, // 2012-07-01
	1119744016, // 2015-07-01
	1167264017, // 2017-01-01
}

// CountLeapSeconds：统计给定 GPS 秒之前累计生效的闰秒数
func CountLeapSeconds(gpsSeconds float64) float64 {
	n := 0
	for _, e := range leapEpochs {
		if gpsSeconds >= e {
			n++
		}
	}
	return float64(n)
}

// ToUTC：GPS 秒换算 UTC 时刻
func ToUTC(gpsSeconds float64) time.Time {
	utc := gpsSeconds - CountLeapSeconds(gpsSeconds)
	sec := int64(utc)
	nsec := int64((utc - float64(sec)) * 1e9)
	return gpsEpoch.Add(time.Duration(sec)*time.Second + time.Duration(nsec))
}

// Coverage：由历元偏移与 delta_time 范围计算时间覆盖区间
// 背景：epochOffset 为 /ancillary_data/atlas_sdp_gps_epoch，相加得到绝对 GPS 秒
func Coverage(epochOffset, tmin, tmax float64) (start, end time.Time, durationSec float64) {
	return ToUTC(epochOffset + tmin), ToUTC(epochOffset + tmax), tmax - tmin
}
