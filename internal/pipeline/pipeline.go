// 包 pipeline：单 rank 的接地带掩膜主流程编排
// 背景：全体 rank 打开同一输入颗粒并以相同顺序处理光束；rank 0 额外承担
// 边界加载/广播与输出落盘（单写者），其余 rank 只参与判定与归约
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gz-mask/internal/comm"
	"gz-mask/internal/geometry"
	"gz-mask/internal/granule"
	"gz-mask/internal/logger"
	"gz-mask/internal/mask"
	"gz-mask/internal/metrics"
	"gz-mask/internal/project"
	"gz-mask/internal/registry"
	"gz-mask/internal/store"
)

// Config：一次运行的全部参数；所有 rank 必须持有相同配置
type Config struct {
	// InputPath：输入颗粒路径，文件名须符合产品命名规范
	InputPath string
	// BoundaryDir：接地带边界 shapefile 所在目录
	BoundaryDir string
	// BufferKm：边界缓冲距离（公里），决定所用 shapefile 与掩膜语义
	BufferKm float64
	// Overwrite：输出已存在时是否覆盖
	Overwrite bool
	// FileMode：输出文件权限；0 表示不改动
	FileMode os.FileMode
	// RunID：运行标识，登记库使用；为空时自动生成
	RunID string
	// Registry：可选的运行登记库，仅 rank 0 访问
	Registry *registry.Registry
	// Polygons：预构建的多边形集合；非空时跳过 shapefile 加载与广播
	// （合成场景使用；Proj4 为空则视输入经纬度为平面坐标，不投影）
	Polygons *geometry.PolygonSet
}

func (c Config) validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("pipeline: input path is required")
	}
	if c.BufferKm <= 0 {
		return fmt.Errorf("pipeline: buffer distance must be positive, got %g", c.BufferKm)
	}
	return nil
}

// Run：执行本 rank 的完整流程；任何致命错误在进入下一个集合操作前触发全组中止
func Run(ctx context.Context, c comm.Comm, cfg Config) error {
	log := logger.R(c.Rank())
	if err := cfg.validate(); err != nil {
		return fail(c, err)
	}
	tok, err := granule.Parse(cfg.InputPath)
	if err != nil {
		return fail(c, err)
	}
	region, err := granule.HemisphereRegion(tok.Region)
	if err != nil {
		return fail(c, err)
	}
	r, err := store.OpenRead(cfg.InputPath)
	if err != nil {
		return fail(c, err)
	}
	defer r.Close()
	epoch, err := r.EpochOffset()
	if err != nil {
		return fail(c, err)
	}
	beams, err := r.Beams()
	if err != nil {
		return fail(c, err)
	}
	if len(beams) == 0 {
		return fail(c, fmt.Errorf("pipeline: %s contains no beam groups", filepath.Base(cfg.InputPath)))
	}
	log.Info("run_start", "input", filepath.Base(cfg.InputPath),
		"hemisphere", region.Hemisphere, "beams", len(beams), "ranks", c.Size())

	ps, err := distributePolygons(c, cfg, region)
	if err != nil {
		return err
	}

	var w *store.Writer
	var counts []registry.BeamCount
	if c.Rank() == 0 {
		w = store.NewWriter(beams, epoch, filepath.Base(cfg.InputPath), region, cfg.BufferKm)
	}

	for _, gtx := range beams {
		bd, err := r.ReadBeam(gtx)
		if err != nil {
			return fail(c, err)
		}
		// 边界为平面坐标（极地立体投影），光子经纬度需先换算；
		// 集合无投影定义时按平面坐标直用（合成场景）
		x, y := bd.Longitude, bd.Latitude
		if ps.Proj4 != "" {
			x, y, err = project.Transform(project.WGS84, ps.Proj4, bd.Longitude, bd.Latitude)
			if err != nil {
				return fail(c, err)
			}
		}
		red, err := mask.ReduceBeam(c, ps, x, y)
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			counts = append(counts, registry.BeamCount{Beam: gtx, Points: len(red), Masked: red.Count()})
			rec := &store.BeamRecord{
				Name:      gtx,
				DeltaTime: bd.DeltaTime,
				Latitude:  bd.Latitude,
				Longitude: bd.Longitude,
				Mask:      red,
				Attrs:     bd.Attrs,
			}
			if err := w.Add(rec); err != nil {
				return fail(c, err)
			}
		}
		// 逐光束对齐：全组在同一光束边界会合后才进入下一条
		if err := c.Barrier(); err != nil {
			return err
		}
	}

	var outName string
	if c.Rank() == 0 {
		outPath := filepath.Join(filepath.Dir(cfg.InputPath), tok.MaskOutputName())
		wrote, err := finishOutput(w, outPath, cfg.Overwrite, cfg.FileMode)
		if err != nil {
			return fail(c, err)
		}
		if wrote {
			outName = filepath.Base(outPath)
		}
		recordRun(ctx, cfg, region, c.Size(), outName, counts)
	}
	// 收尾栅栏：其余 rank 等待落盘完成后一同退出
	if err := c.Barrier(); err != nil {
		return err
	}
	log.Info("run_done", "output", outName)
	return nil
}

// distributePolygons：rank 0 加载边界并广播环坐标，其余 rank 解码重建
// 背景：shapefile 只读一次，避免全体 rank 同时冲击共享存储；GEOS 句柄各端本地重建
func distributePolygons(c comm.Comm, cfg Config, region granule.RegionInfo) (*geometry.PolygonSet, error) {
	if cfg.Polygons != nil {
		return cfg.Polygons, nil
	}
	var payload []byte
	var ps *geometry.PolygonSet
	if c.Rank() == 0 {
		loaded, err := geometry.Load(cfg.BoundaryDir, region.BufferedShapefile(cfg.BufferKm), region.Proj4)
		if err != nil {
			return nil, fail(c, err)
		}
		payload, err = loaded.Encode()
		if err != nil {
			return nil, fail(c, err)
		}
		ps = loaded
		logger.L().Info("boundary_loaded", "file", loaded.SourceFile, "polygons", loaded.Len())
	}
	payload, err := c.Bcast(0, payload)
	if err != nil {
		return nil, err
	}
	if c.Rank() != 0 {
		ps, err = geometry.Decode(payload)
		if err != nil {
			return nil, fail(c, err)
		}
	}
	return ps, nil
}

// finishOutput：按无事不落盘策略决定是否写出
// 约束：所有光束掩膜全为假时不产生输出文件，也不触碰既有同名文件
func finishOutput(w *store.Writer, path string, overwrite bool, mode os.FileMode) (bool, error) {
	if !w.AnyMasked() {
		metrics.OutputsSkippedTotal.Inc()
		logger.L().Info("output_skipped_empty", "output", filepath.Base(path))
		return false, nil
	}
	if err := w.Write(path, overwrite); err != nil {
		return false, err
	}
	if mode != 0 {
		if err := os.Chmod(path, mode); err != nil {
			return false, fmt.Errorf("pipeline: chmod %s: %w", path, err)
		}
	}
	return true, nil
}

// recordRun：写入运行登记；登记失败不影响已完成的计算与落盘，降级为告警
func recordRun(ctx context.Context, cfg Config, region granule.RegionInfo, ranks int, outName string, counts []registry.BeamCount) {
	if cfg.Registry == nil {
		return
	}
	total, masked := 0, 0
	for _, b := range counts {
		total += b.Points
		masked += b.Masked
	}
	_, err := cfg.Registry.RecordRun(ctx, registry.Run{
		ID:           cfg.RunID,
		InputFile:    filepath.Base(cfg.InputPath),
		OutputFile:   outName,
		Hemisphere:   region.Hemisphere,
		BufferKm:     cfg.BufferKm,
		Ranks:        ranks,
		TotalPoints:  total,
		MaskedPoints: masked,
	}, counts)
	if err != nil {
		logger.L().Warn("run_record_failed", "err", err)
	}
}

func fail(c comm.Comm, err error) error {
	c.Abort(err)
	return err
}
