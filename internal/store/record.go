// 包 store：分层容器（HDF5）的读写与单写者状态机
// 背景：输出记录采用固定模式（每个数据集带既定属性集合），替代源头按字典动态拼装的做法，使写契约可静态检查
package store

import (
	"fmt"

	"gz-mask/internal/mask"
)

// BeamAttrs：光束组级属性，从输入颗粒原样转录
type BeamAttrs struct {
	Description       string
	AtlasPCE          string
	AtlasBeamType     string
	GroundtrackID     string
	AtmosphereProfile string
	AtlasSpotNumber   string
	SCOrientation     string
}

// BeamRecord：单条光束的输出记录：源几何/时间字段加归约后的掩膜
// 约束：仅在该光束完成归约栅栏之后创建；掩膜与各数组必须等长
type BeamRecord struct {
	Name      string
	DeltaTime []float64
	Latitude  []float64
	Longitude []float64
	Mask      mask.ReducedMask
	Attrs     BeamAttrs
}

// Validate：数组与掩膜的长度一致性检查
// 背景：掩膜数据集与 delta_time 维度绑定，形状不符时禁止落盘，避免产出半挂接文件
func (r *BeamRecord) Validate() error {
	n := len(r.DeltaTime)
	if len(r.Latitude) != n || len(r.Longitude) != n || len(r.Mask) != n {
		return fmt.Errorf("store: beam %s shape mismatch: delta_time=%d latitude=%d longitude=%d mask=%d",
			r.Name, n, len(r.Latitude), len(r.Longitude), len(r.Mask))
	}
	return nil
}

// datasetAttrs：数据集属性的固定模式；空字段不写出
type datasetAttrs struct {
	Units        string
	ContentType  string
	LongName     string
	StandardName string
	Calendar     string
	Description  string
	Coordinates  string
	Reference    string
	ValidMin     *float64
	ValidMax     *float64
	Source       *float64
	// Dimensions：声明该数据集挂接的维度尺度（delta_time）
	Dimensions string
}

func f64(v float64) *float64 { return &v }

// deltaTimeAttrs：时间数组的既定属性
func deltaTimeAttrs() datasetAttrs {
	return datasetAttrs{
		Units:        "seconds since 2018-01-01",
		LongName:     "Elapsed GPS seconds",
		StandardName: "time",
		Calendar:     "standard",
		Description: "Number of GPS seconds since the ATLAS SDP epoch. " +
			"The ATLAS Standard Data Products (SDP) epoch offset is defined within " +
			"/ancillary_data/atlas_sdp_gps_epoch as the number of GPS seconds between " +
			"the GPS epoch (1980-01-06T00:00:00.000000Z UTC) and the ATLAS SDP epoch. " +
			"By adding the offset contained within atlas_sdp_gps_epoch to delta time " +
			"parameters, the time in gps_seconds relative to the GPS epoch can be computed.",
		Coordinates: "lat_ph lon_ph",
	}
}

func latitudeAttrs() datasetAttrs {
	return datasetAttrs{
		Units:        "degrees_north",
		ContentType:  "physicalMeasurement",
		LongName:     "Latitude",
		StandardName: "latitude",
		Description: "Latitude of each received photon. Computed from the ECF Cartesian " +
			"coordinates of the bounce point.",
		ValidMin:    f64(-90),
		ValidMax:    f64(90),
		Coordinates: "delta_time lon_ph",
		Dimensions:  "delta_time",
	}
}

func longitudeAttrs() datasetAttrs {
	return datasetAttrs{
		Units:        "degrees_east",
		ContentType:  "physicalMeasurement",
		LongName:     "Longitude",
		StandardName: "longitude",
		Description: "Longitude of each received photon. Computed from the ECF Cartesian " +
			"coordinates of the bounce point.",
		ValidMin:    f64(-180),
		ValidMax:    f64(180),
		Coordinates: "delta_time lat_ph",
		Dimensions:  "delta_time",
	}
}

// maskAttrs：掩膜数据集属性；描述中写明边界来源与缓冲距离，source 记录缓冲公里数
func maskAttrs(description, reference string, bufferKm float64) datasetAttrs {
	return datasetAttrs{
		ContentType: "referenceInformation",
		LongName:    "Grounding Zone Mask",
		Description: fmt.Sprintf("Grounding zone mask calculated using delineations from %s buffered by %.0f km.",
			description, bufferKm),
		Reference:   reference,
		Source:      f64(bufferKm),
		Coordinates: "../heights/delta_time ../heights/lat_ph ../heights/lon_ph",
		Dimensions:  "delta_time",
	}
}
