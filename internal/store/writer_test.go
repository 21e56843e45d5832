package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gz-mask/internal/granule"
	"gz-mask/internal/mask"
)

func testRegion(t *testing.T) granule.RegionInfo {
	t.Helper()
	r, err := granule.HemisphereRegion("11")
	require.NoError(t, err)
	return r
}

func beamRec(name string, masked ...int) *BeamRecord {
	n := 4
	rec := &BeamRecord{
		Name:      name,
		DeltaTime: []float64{10.5, 11.5, 12.5, 13.5},
		Latitude:  []float64{-71.1, -71.2, -71.3, -71.4},
		Longitude: []float64{65.1, 65.2, 65.3, 65.4},
		Mask:      make(mask.ReducedMask, n),
		Attrs:     BeamAttrs{Description: "test beam", AtlasBeamType: "strong"},
	}
	for _, i := range masked {
		rec.Mask[i] = true
	}
	return rec
}

func TestWriterStateMachine(t *testing.T) {
	w := NewWriter([]string{"gt1l", "gt1r"}, 1198800018, "in.h5", testRegion(t), 20)
	assert.Equal(t, Collecting, w.State())

	// READY 之前禁止写
	err := w.Write(filepath.Join(t.TempDir(), "out.h5"), false)
	assert.Error(t, err)

	require.NoError(t, w.Add(beamRec("gt1l", 0)))
	assert.Equal(t, Collecting, w.State())

	// 清单外与重复光束均为错误
	assert.Error(t, w.Add(beamRec("gt9x")))
	assert.Error(t, w.Add(beamRec("gt1l")))

	require.NoError(t, w.Add(beamRec("gt1r")))
	assert.Equal(t, Ready, w.State())
	assert.True(t, w.AnyMasked())
}

func TestWriterRejectsShapeMismatch(t *testing.T) {
	w := NewWriter([]string{"gt1l"}, 0, "in.h5", testRegion(t), 20)
	rec := beamRec("gt1l")
	rec.Mask = rec.Mask[:2] // 掩膜与 delta_time 形状不符
	assert.Error(t, w.Add(rec))
}

func TestWriterAnyMaskedAllFalse(t *testing.T) {
	w := NewWriter([]string{"gt1l"}, 0, "in.h5", testRegion(t), 20)
	require.NoError(t, w.Add(beamRec("gt1l")))
	assert.False(t, w.AnyMasked())
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ATL03_GROUNDING_ZONE_MASK_test.h5")
	w := NewWriter([]string{"gt1l"}, 1198800018, "ATL03_test.h5", testRegion(t), 20)
	rec := beamRec("gt1l", 1, 3)
	require.NoError(t, w.Add(rec))
	require.NoError(t, w.Write(path, false))
	assert.Equal(t, Closed, w.State())

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()

	dt, err := r.ReadFloats("gt1l/heights/delta_time")
	require.NoError(t, err)
	assert.Equal(t, rec.DeltaTime, dt)
	lat, err := r.ReadFloats("gt1l/heights/latitude")
	require.NoError(t, err)
	assert.Equal(t, rec.Latitude, lat)
	lon, err := r.ReadFloats("gt1l/heights/longitude")
	require.NoError(t, err)
	assert.Equal(t, rec.Longitude, lon)
	gz, err := r.ReadBytes("gt1l/subsetting/ice_gz")
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 0, 1}, gz)

	// 维度挂接在轮回后保留：掩膜声明 delta_time 尺度，尺度自身带 CLASS/NAME
	dim, err := r.ReadStrAttr("gt1l/subsetting/ice_gz", "dimensions")
	require.NoError(t, err)
	assert.Equal(t, "delta_time", dim)
	class, err := r.ReadStrAttr("gt1l/heights/delta_time", "CLASS")
	require.NoError(t, err)
	assert.Equal(t, "DIMENSION_SCALE", class)

	desc, err := r.ReadStrAttr("gt1l/subsetting/ice_gz", "description")
	require.NoError(t, err)
	assert.Contains(t, desc, "buffered by 20 km")

	epoch, err := r.EpochOffset()
	require.NoError(t, err)
	assert.Equal(t, 1198800018.0, epoch)
}

func TestWriteOverwritePolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.h5")

	w1 := NewWriter([]string{"gt1l"}, 0, "in.h5", testRegion(t), 20)
	require.NoError(t, w1.Add(beamRec("gt1l", 0)))
	require.NoError(t, w1.Write(path, false))

	// 已存在且未要求覆盖：失败且不截断
	w2 := NewWriter([]string{"gt1l"}, 0, "in.h5", testRegion(t), 20)
	require.NoError(t, w2.Add(beamRec("gt1l", 0)))
	assert.Error(t, w2.Write(path, false))

	// 要求覆盖：成功
	w3 := NewWriter([]string{"gt1l"}, 0, "in.h5", testRegion(t), 20)
	require.NoError(t, w3.Add(beamRec("gt1l", 2)))
	require.NoError(t, w3.Write(path, true))
}
