package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"

	"gz-mask/internal/comm"
	"gz-mask/internal/geometry"
	"gz-mask/internal/store"
)

type beamArrays struct {
	dt, lon, lat []float64
}

func writeDS(t *testing.T, g *hdf5.Group, name string, data []float64) {
	t.Helper()
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	require.NoError(t, err)
	defer space.Close()
	ds, err := g.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.Write(&data))
}

// writeInputGranule：合成一个最小输入颗粒（历元 + 光束 heights 数组）
func writeInputGranule(t *testing.T, path string, epoch float64, beams map[string]beamArrays) {
	t.Helper()
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	defer f.Close()

	anc, err := f.CreateGroup("ancillary_data")
	require.NoError(t, err)
	writeDS(t, anc, "atlas_sdp_gps_epoch", []float64{epoch})
	require.NoError(t, anc.Close())

	for name, b := range beams {
		g, err := f.CreateGroup(name)
		require.NoError(t, err)
		hg, err := g.CreateGroup("heights")
		require.NoError(t, err)
		writeDS(t, hg, "delta_time", b.dt)
		writeDS(t, hg, "lon_ph", b.lon)
		writeDS(t, hg, "lat_ph", b.lat)
		require.NoError(t, hg.Close())
		require.NoError(t, g.Close())
	}
}

// unitSquare：平面坐标 [0,2]x[0,2] 的单个多边形，无投影定义
func unitSquare(t *testing.T) *geometry.PolygonSet {
	t.Helper()
	ps, err := geometry.NewFromRings([][][][]float64{
		{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}},
	}, "")
	require.NoError(t, err)
	return ps
}

func runGroup(t *testing.T, size int, cfg Config) []error {
	t.Helper()
	comms, err := comm.NewLocalGroup(size)
	require.NoError(t, err)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := range comms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = Run(context.Background(), comms[i], cfg)
		}(i)
	}
	wg.Wait()
	return errs
}

const inputName = "ATL03_20181017222812_02950111_005_01.h5"
const outputName = "ATL03_GROUNDING_ZONE_MASK_20181017222812_02950111_005_01.h5"

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, inputName)
	writeInputGranule(t, input, 1198800018, map[string]beamArrays{
		"gt1l": {
			dt:  []float64{1, 2, 3, 4},
			lon: []float64{1, 5, 1.5, 9},
			lat: []float64{1, 5, 0.5, 9},
		},
		"gt1r": {
			dt:  []float64{10, 11},
			lon: []float64{7, 8},
			lat: []float64{7, 8},
		},
	})

	cfg := Config{InputPath: input, BufferKm: 20, Polygons: unitSquare(t)}
	for i, err := range runGroup(t, 2, cfg) {
		require.NoError(t, err, "rank %d", i)
	}

	out := filepath.Join(dir, outputName)
	r, err := store.OpenRead(out)
	require.NoError(t, err)
	defer r.Close()

	gz, err := r.ReadBytes("gt1l/subsetting/ice_gz")
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 0, 1, 0}, gz)
	gz, err = r.ReadBytes("gt1r/subsetting/ice_gz")
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0}, gz)

	epoch, err := r.EpochOffset()
	require.NoError(t, err)
	assert.Equal(t, 1198800018.0, epoch)
}

func TestRunSkipsOutputWhenNothingMasked(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, inputName)
	writeInputGranule(t, input, 1198800018, map[string]beamArrays{
		"gt2l": {
			dt:  []float64{1, 2, 3},
			lon: []float64{50, 60, 70},
			lat: []float64{50, 60, 70},
		},
	})

	cfg := Config{InputPath: input, BufferKm: 20, Polygons: unitSquare(t)}
	for i, err := range runGroup(t, 2, cfg) {
		require.NoError(t, err, "rank %d", i)
	}

	_, err := os.Stat(filepath.Join(dir, outputName))
	assert.True(t, os.IsNotExist(err), "no output expected when every mask entry is false")
}

func TestRunOverwritePolicy(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, inputName)
	writeInputGranule(t, input, 0, map[string]beamArrays{
		"gt3r": {
			dt:  []float64{1},
			lon: []float64{1},
			lat: []float64{1},
		},
	})

	cfg := Config{InputPath: input, BufferKm: 20, Polygons: unitSquare(t)}
	require.NoError(t, runGroup(t, 1, cfg)[0])

	// 输出已存在且未要求覆盖：整次运行失败
	assert.Error(t, runGroup(t, 1, cfg)[0])

	cfg.Overwrite = true
	assert.NoError(t, runGroup(t, 1, cfg)[0])
}

func TestRunRejectsBadConfig(t *testing.T) {
	errs := runGroup(t, 1, Config{InputPath: "x.h5", BufferKm: 0})
	assert.Error(t, errs[0])
}
