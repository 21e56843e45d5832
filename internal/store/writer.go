// 输出颗粒写入：单写者状态机 COLLECTING → READY → WRITING → CLOSED
// 背景：各光束的归约结果先在指定写者（rank 0）处收集；全部光束过栅栏后一次性落盘
package store

import (
	"fmt"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/hdf5"

	"gz-mask/internal/gpstime"
	"gz-mask/internal/granule"
	"gz-mask/internal/logger"
	"gz-mask/internal/metrics"
	"gz-mask/internal/version"
)

// State：写者状态
type State int

const (
	Collecting State = iota
	Ready
	Writing
	Closed
)

// Writer：输出记录的收集与写入
// 约束：输出文件由唯一写者独占，运行期间其他 rank 不得以写方式打开
type Writer struct {
	state    State
	expected []string
	beams    map[string]*BeamRecord

	epoch     float64
	inputName string
	region    granule.RegionInfo
	bufferKm  float64
}

// NewWriter：以既定光束清单创建收集器
// 背景：光束清单在进入逐光束循环前确定且全 rank 一致，收集按清单校验防止漏束
func NewWriter(expected []string, epoch float64, inputName string, region granule.RegionInfo, bufferKm float64) *Writer {
	return &Writer{
		state:     Collecting,
		expected:  expected,
		beams:     make(map[string]*BeamRecord, len(expected)),
		epoch:     epoch,
		inputName: inputName,
		region:    region,
		bufferKm:  bufferKm,
	}
}

// State：当前状态
func (w *Writer) State() State { return w.state }

// Add：收集一条光束记录；集齐全部光束后自动进入 READY
// 约束：仅在该光束完成归约与栅栏之后调用；重复或清单外的光束为错误
func (w *Writer) Add(rec *BeamRecord) error {
	if w.state != Collecting {
		return fmt.Errorf("store: add beam %s in state %d", rec.Name, w.state)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	found := false
	for _, name := range w.expected {
		if name == rec.Name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("store: beam %s not in expected set", rec.Name)
	}
	if _, dup := w.beams[rec.Name]; dup {
		return fmt.Errorf("store: beam %s already collected", rec.Name)
	}
	w.beams[rec.Name] = rec
	if len(w.beams) == len(w.expected) {
		w.state = Ready
	}
	return nil
}

// AnyMasked：是否存在任何一束的任何真值
// 背景：全假时按既定策略跳过输出文件（无事可报不算错误）
func (w *Writer) AnyMasked() bool {
	for _, rec := range w.beams {
		if rec.Mask.Any() {
			return true
		}
	}
	return false
}

// Write：落盘；只能从 READY 进入
// 约束：目标已存在且未要求覆盖时必须失败，不得静默截断；形状不符在打开文件之前即失败
func (w *Writer) Write(path string, overwrite bool) error {
	if w.state != Ready {
		return fmt.Errorf("store: write in state %d (need all %d beams collected)", w.state, len(w.expected))
	}
	for _, name := range w.expected {
		if err := w.beams[name].Validate(); err != nil {
			return err
		}
	}
	flags := hdf5.F_ACC_EXCL
	if overwrite {
		flags = hdf5.F_ACC_TRUNC
	} else if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("store: output %s already exists and overwrite not requested", path)
	}

	h5mu.Lock()
	defer h5mu.Unlock()
	w.state = Writing
	f, err := hdf5.CreateFile(path, flags)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", path, err)
	}
	defer f.Close()

	if err := w.writeAncillary(f); err != nil {
		return err
	}
	for _, name := range w.expected {
		if err := w.writeBeam(f, w.beams[name]); err != nil {
			return err
		}
	}
	if err := w.writeGlobalAttrs(f); err != nil {
		return err
	}
	w.state = Closed
	metrics.OutputsWrittenTotal.Inc()
	logger.L().Info("output_written", "path", path, "beams", len(w.expected))
	return nil
}

// writeAncillary：历元偏移转录
func (w *Writer) writeAncillary(f *hdf5.File) error {
	g, err := f.CreateGroup("ancillary_data")
	if err != nil {
		return fmt.Errorf("store: create ancillary_data: %w", err)
	}
	defer g.Close()
	ds, err := writeFloats(g, "atlas_sdp_gps_epoch", []float64{w.epoch})
	if err != nil {
		return err
	}
	defer ds.Close()
	return applyAttrs(ds, datasetAttrs{
		Units:    "seconds since 1980-01-06T00:00:00.000000Z",
		LongName: "ATLAS Epoch Offset",
		Description: "Number of GPS seconds between the GPS epoch and the ATLAS " +
			"Standard Data Product (SDP) epoch.",
	})
}

// writeBeam：单条光束：组属性、heights 数组、subsetting 掩膜与维度挂接
func (w *Writer) writeBeam(f *hdf5.File, rec *BeamRecord) error {
	g, err := f.CreateGroup(rec.Name)
	if err != nil {
		return fmt.Errorf("store: create group %s: %w", rec.Name, err)
	}
	defer g.Close()
	beamAttrs := []struct{ name, value string }{
		{"Description", rec.Attrs.Description},
		{"atlas_pce", rec.Attrs.AtlasPCE},
		{"atlas_beam_type", rec.Attrs.AtlasBeamType},
		{"groundtrack_id", rec.Attrs.GroundtrackID},
		{"atmosphere_profile", rec.Attrs.AtmosphereProfile},
		{"atlas_spot_number", rec.Attrs.AtlasSpotNumber},
		{"sc_orientation", rec.Attrs.SCOrientation},
	}
	for _, a := range beamAttrs {
		if err := setStrAttr(g, a.name, a.value); err != nil {
			return err
		}
	}

	hg, err := g.CreateGroup("heights")
	if err != nil {
		return fmt.Errorf("store: create %s/heights: %w", rec.Name, err)
	}
	defer hg.Close()
	if err := setStrAttr(hg, "Description", "Contains arrays of the parameters for each received photon."); err != nil {
		return err
	}
	if err := setStrAttr(hg, "data_rate", "Data are stored at the photon detection rate."); err != nil {
		return err
	}

	// delta_time 为维度尺度，其余数据集声明挂接到它
	dt, err := writeFloats(hg, "delta_time", rec.DeltaTime)
	if err != nil {
		return err
	}
	defer dt.Close()
	if err := setStrAttr(dt, "CLASS", "DIMENSION_SCALE"); err != nil {
		return err
	}
	if err := setStrAttr(dt, "NAME", "delta_time"); err != nil {
		return err
	}
	if err := applyAttrs(dt, deltaTimeAttrs()); err != nil {
		return err
	}

	lat, err := writeFloats(hg, "latitude", rec.Latitude)
	if err != nil {
		return err
	}
	defer lat.Close()
	if err := applyAttrs(lat, latitudeAttrs()); err != nil {
		return err
	}
	lon, err := writeFloats(hg, "longitude", rec.Longitude)
	if err != nil {
		return err
	}
	defer lon.Close()
	if err := applyAttrs(lon, longitudeAttrs()); err != nil {
		return err
	}

	sg, err := g.CreateGroup("subsetting")
	if err != nil {
		return fmt.Errorf("store: create %s/subsetting: %w", rec.Name, err)
	}
	defer sg.Close()
	if err := setStrAttr(sg, "Description", "The subsetting group contains parameters used to reduce "+
		"photon events to specific regions of interest."); err != nil {
		return err
	}
	if err := setStrAttr(sg, "data_rate", "Data are stored at the photon detection rate."); err != nil {
		return err
	}
	gz, err := writeBytes(sg, "ice_gz", maskBytes(rec))
	if err != nil {
		return err
	}
	defer gz.Close()
	return applyAttrs(gz, maskAttrs(w.region.Description, w.region.Reference, w.bufferKm))
}

// writeGlobalAttrs：全局溯源与覆盖范围属性
func (w *Writer) writeGlobalAttrs(f *hdf5.File) error {
	root, err := f.OpenGroup("/")
	if err != nil {
		return fmt.Errorf("store: open root group: %w", err)
	}
	defer root.Close()

	lnmn, lnmx := math.Inf(1), math.Inf(-1)
	ltmn, ltmx := math.Inf(1), math.Inf(-1)
	tmn, tmx := math.Inf(1), math.Inf(-1)
	for _, rec := range w.beams {
		if len(rec.DeltaTime) == 0 {
			continue
		}
		lnmn = math.Min(lnmn, floats.Min(rec.Longitude))
		lnmx = math.Max(lnmx, floats.Max(rec.Longitude))
		ltmn = math.Min(ltmn, floats.Min(rec.Latitude))
		ltmx = math.Max(ltmx, floats.Max(rec.Latitude))
		tmn = math.Min(tmn, floats.Min(rec.DeltaTime))
		tmx = math.Max(tmx, floats.Max(rec.DeltaTime))
	}

	strAttrs := []struct{ name, value string }{
		{"featureType", "trajectory"},
		{"title", "ATLAS/ICESat-2 L2A Global Geolocated Photon Data"},
		{"summary", "The purpose of ATL03 is to provide along-track photon data for " +
			"all 6 ATLAS beams and associated statistics."},
		{"description", "Photon heights determined by ATBD Algorithm using POD and PPD. " +
			"All photon events per transmit pulse per beam. Includes POD and PPD vectors. " +
			"Classification of each photon by several ATBD Algorithms."},
		{"date_created", time.Now().UTC().Format("2006-01-02T15:04:05.000000")},
		{"project", "ICESat-2 > Ice, Cloud, and land Elevation Satellite-2"},
		{"platform", "ICESat-2 > Ice, Cloud, and land Elevation Satellite-2"},
		{"instrument", "ATLAS > Advanced Topographic Laser Altimeter System"},
		{"source", "Spacecraft"},
		{"references", "http://nsidc.org/data/icesat2/data.html"},
		{"processing_level", "4"},
		{"software_version", version.String()},
		{"input_files", w.inputName},
		{"geospatial_lat_units", "degrees_north"},
		{"geospatial_lon_units", "degrees_east"},
		{"geospatial_ellipsoid", "WGS84"},
		{"date_type", "UTC"},
		{"time_type", "CCSDS UTC-A"},
	}
	for _, a := range strAttrs {
		if err := setStrAttr(root, a.name, a.value); err != nil {
			return err
		}
	}
	floatAttrs := []struct {
		name  string
		value float64
	}{
		{"geospatial_lat_min", ltmn},
		{"geospatial_lat_max", ltmx},
		{"geospatial_lon_min", lnmn},
		{"geospatial_lon_max", lnmx},
	}
	for _, a := range floatAttrs {
		if err := setFloatAttr(root, a.name, a.value); err != nil {
			return err
		}
	}
	if !math.IsInf(tmn, 1) {
		start, end, dur := gpstime.Coverage(w.epoch, tmn, tmx)
		covAttrs := []struct{ name, value string }{
			{"time_coverage_start", start.Format("2006-01-02T15:04:05.000000")},
			{"time_coverage_end", end.Format("2006-01-02T15:04:05.000000")},
			{"time_coverage_duration", fmt.Sprintf("%.0f", dur)},
		}
		for _, a := range covAttrs {
			if err := setStrAttr(root, a.name, a.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func maskBytes(rec *BeamRecord) []uint8 {
	out := make([]uint8, len(rec.Mask))
	for i, v := range rec.Mask {
		if v {
			out[i] = 1
		}
	}
	return out
}

// attrObject：Group 与 Dataset 共有的属性创建入口
type attrObject interface {
	CreateAttribute(name string, dtype *hdf5.Datatype, space *hdf5.Dataspace) (*hdf5.Attribute, error)
}

func setStrAttr(o attrObject, name, value string) error {
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return fmt.Errorf("store: attribute %s dataspace: %w", name, err)
	}
	defer space.Close()
	attr, err := o.CreateAttribute(name, hdf5.T_GO_STRING, space)
	if err != nil {
		return fmt.Errorf("store: create attribute %s: %w", name, err)
	}
	defer attr.Close()
	if err := attr.Write(&value, hdf5.T_GO_STRING); err != nil {
		return fmt.Errorf("store: write attribute %s: %w", name, err)
	}
	return nil
}

func setFloatAttr(o attrObject, name string, value float64) error {
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return fmt.Errorf("store: attribute %s dataspace: %w", name, err)
	}
	defer space.Close()
	attr, err := o.CreateAttribute(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return fmt.Errorf("store: create attribute %s: %w", name, err)
	}
	defer attr.Close()
	if err := attr.Write(&value, hdf5.T_NATIVE_DOUBLE); err != nil {
		return fmt.Errorf("store: write attribute %s: %w", name, err)
	}
	return nil
}

// applyAttrs：按固定顺序写出数据集属性模式；空字段跳过
func applyAttrs(d *hdf5.Dataset, a datasetAttrs) error {
	strs := []struct{ name, value string }{
		{"units", a.Units},
		{"contentType", a.ContentType},
		{"long_name", a.LongName},
		{"standard_name", a.StandardName},
		{"calendar", a.Calendar},
		{"description", a.Description},
		{"reference", a.Reference},
		{"coordinates", a.Coordinates},
		{"dimensions", a.Dimensions},
	}
	for _, s := range strs {
		if s.value == "" {
			continue
		}
		if err := setStrAttr(d, s.name, s.value); err != nil {
			return err
		}
	}
	fls := []struct {
		name  string
		value *float64
	}{
		{"valid_min", a.ValidMin},
		{"valid_max", a.ValidMax},
		{"source", a.Source},
	}
	for _, fl := range fls {
		if fl.value == nil {
			continue
		}
		if err := setFloatAttr(d, fl.name, *fl.value); err != nil {
			return err
		}
	}
	return nil
}

func writeFloats(g *hdf5.Group, name string, data []float64) (*hdf5.Dataset, error) {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return nil, fmt.Errorf("store: dataspace %s: %w", name, err)
	}
	defer space.Close()
	ds, err := g.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return nil, fmt.Errorf("store: create dataset %s: %w", name, err)
	}
	if err := ds.Write(&data); err != nil {
		ds.Close()
		return nil, fmt.Errorf("store: write dataset %s: %w", name, err)
	}
	return ds, nil
}

func writeBytes(g *hdf5.Group, name string, data []uint8) (*hdf5.Dataset, error) {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return nil, fmt.Errorf("store: dataspace %s: %w", name, err)
	}
	defer space.Close()
	ds, err := g.CreateDataset(name, hdf5.T_NATIVE_UINT8, space)
	if err != nil {
		return nil, fmt.Errorf("store: create dataset %s: %w", name, err)
	}
	if err := ds.Write(&data); err != nil {
		ds.Close()
		return nil, fmt.Errorf("store: write dataset %s: %w", name, err)
	}
	return ds, nil
}
