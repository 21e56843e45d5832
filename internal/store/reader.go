// 输入颗粒读取：光束枚举、高度数组与历元属性
// 背景：串行 HDF5 没有集合式打开，每个 rank 各自只读打开同一文件；
// 进程内多 rank 共享动态库状态，读操作以包级互斥串行化（串行 HDF5 非线程安全）
package store

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/hdf5"

	"gz-mask/internal/granule"
	"gz-mask/internal/logger"
)

// h5mu：串行 HDF5 的全局互斥
var h5mu sync.Mutex

// Reader：只读打开的输入颗粒
type Reader struct {
	f *hdf5.File
}

// BeamData：单条光束的输入数组与组属性
type BeamData struct {
	DeltaTime []float64
	Longitude []float64
	Latitude  []float64
	Attrs     BeamAttrs
}

// OpenRead：只读打开输入颗粒
func OpenRead(path string) (*Reader, error) {
	h5mu.Lock()
	defer h5mu.Unlock()
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Reader{f: f}, nil
}

// Close：关闭文件
func (r *Reader) Close() error {
	h5mu.Lock()
	defer h5mu.Unlock()
	return r.f.Close()
}

// Beams：列出输入中的光束组，固定按字典序返回
// 约束：各 rank 必须以同一顺序处理光束，才能在同一逻辑点到达同一栅栏
func (r *Reader) Beams() ([]string, error) {
	h5mu.Lock()
	defer h5mu.Unlock()
	n, err := r.f.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("store: list objects: %w", err)
	}
	var beams []string
	for i := uint(0); i < n; i++ {
		name, err := r.f.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("store: object name %d: %w", i, err)
		}
		if granule.IsBeam(name) {
			beams = append(beams, name)
		}
	}
	sort.Strings(beams)
	return beams, nil
}

// EpochOffset：读取 /ancillary_data/atlas_sdp_gps_epoch 标量
func (r *Reader) EpochOffset() (float64, error) {
	v, err := r.ReadFloats("ancillary_data/atlas_sdp_gps_epoch")
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("store: atlas_sdp_gps_epoch is empty")
	}
	return v[0], nil
}

// ReadBeam：读取一条光束的时间与经纬度数组
// 约束：三个数组必须等长，这是输入一致性要求，违例即返回错误（调用方应在集合操作前终止）
func (r *Reader) ReadBeam(gtx string) (*BeamData, error) {
	dt, err := r.ReadFloats(gtx + "/heights/delta_time")
	if err != nil {
		return nil, err
	}
	lon, err := r.ReadFloats(gtx + "/heights/lon_ph")
	if err != nil {
		return nil, err
	}
	lat, err := r.ReadFloats(gtx + "/heights/lat_ph")
	if err != nil {
		return nil, err
	}
	if len(lon) != len(dt) || len(lat) != len(dt) {
		return nil, fmt.Errorf("store: beam %s array length mismatch: delta_time=%d lon_ph=%d lat_ph=%d",
			gtx, len(dt), len(lon), len(lat))
	}
	return &BeamData{
		DeltaTime: dt,
		Longitude: lon,
		Latitude:  lat,
		Attrs:     r.readBeamAttrs(gtx),
	}, nil
}

// readBeamAttrs：转录光束组属性；缺失属性按空串处理（旧版本颗粒属性不全）
func (r *Reader) readBeamAttrs(gtx string) BeamAttrs {
	h5mu.Lock()
	defer h5mu.Unlock()
	g, err := r.f.OpenGroup(gtx)
	if err != nil {
		logger.L().Debug("beam_attrs_unavailable", "beam", gtx, "err", err)
		return BeamAttrs{}
	}
	defer g.Close()
	get := func(name string) string {
		attr, err := g.OpenAttribute(name)
		if err != nil {
			return ""
		}
		defer attr.Close()
		var s string
		if err := attr.Read(&s, hdf5.T_GO_STRING); err != nil {
			return ""
		}
		return s
	}
	return BeamAttrs{
		Description:       get("Description"),
		AtlasPCE:          get("atlas_pce"),
		AtlasBeamType:     get("atlas_beam_type"),
		GroundtrackID:     get("groundtrack_id"),
		AtmosphereProfile: get("atmosphere_profile"),
		AtlasSpotNumber:   get("atlas_spot_number"),
		SCOrientation:     get("sc_orientation"),
	}
}

// ReadFloats：按路径读取一维 float64 数据集
func (r *Reader) ReadFloats(path string) ([]float64, error) {
	h5mu.Lock()
	defer h5mu.Unlock()
	ds, err := r.f.OpenDataset(path)
	if err != nil {
		return nil, fmt.Errorf("store: open dataset %s: %w", path, err)
	}
	defer ds.Close()
	dims, _, err := ds.Space().SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("store: dataset %s extent: %w", path, err)
	}
	n := uint(1)
	for _, d := range dims {
		n *= d
	}
	out := make([]float64, n)
	if err := ds.Read(&out); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return out, nil
}

// ReadBytes：按路径读取一维 uint8 数据集（掩膜）
func (r *Reader) ReadBytes(path string) ([]uint8, error) {
	h5mu.Lock()
	defer h5mu.Unlock()
	ds, err := r.f.OpenDataset(path)
	if err != nil {
		return nil, fmt.Errorf("store: open dataset %s: %w", path, err)
	}
	defer ds.Close()
	dims, _, err := ds.Space().SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("store: dataset %s extent: %w", path, err)
	}
	n := uint(1)
	for _, d := range dims {
		n *= d
	}
	out := make([]uint8, n)
	if err := ds.Read(&out); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return out, nil
}

// ReadStrAttr：读取数据集上的字符串属性（轮回测试与维度挂接校验用）
func (r *Reader) ReadStrAttr(dsPath, name string) (string, error) {
	h5mu.Lock()
	defer h5mu.Unlock()
	ds, err := r.f.OpenDataset(dsPath)
	if err != nil {
		return "", fmt.Errorf("store: open dataset %s: %w", dsPath, err)
	}
	defer ds.Close()
	attr, err := ds.OpenAttribute(name)
	if err != nil {
		return "", fmt.Errorf("store: open attribute %s/%s: %w", dsPath, name, err)
	}
	defer attr.Close()
	var s string
	if err := attr.Read(&s, hdf5.T_GO_STRING); err != nil {
		return "", fmt.Errorf("store: read attribute %s/%s: %w", dsPath, name, err)
	}
	return s, nil
}
