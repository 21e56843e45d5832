package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"gz-mask/internal/comm"
	"gz-mask/internal/logger"
	"gz-mask/internal/metrics"
	"gz-mask/internal/pipeline"
	"gz-mask/internal/registry"
	"gz-mask/internal/utils"
	"gz-mask/internal/version"
)

// 文档注释：接地带掩膜计算驱动
// 背景：单机模式（GZ_COMM=local）在进程内起一组 goroutine worker；
// 多机模式（GZ_COMM=redis）每个进程承担一个 rank，经 Redis 会合，由调度方为
// 全组下发同一 GZ_RUN_ID。配置全部走环境变量，.env 可选。

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logger.L().Warn("bad_env_int", "key", key, "value", v)
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.L().Warn("bad_env_float", "key", key, "value", v)
	}
	return def
}

func getenvBool(key string) bool {
	switch getenv(key, "") {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func main() {
	_ = godotenv.Load(".env")
	logger.Setup()
	log := logger.L()
	log.Info("startup", "version", version.String())

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: gz-mask <ATL03 granule path>\n")
		os.Exit(2)
	}

	cfg := pipeline.Config{
		InputPath:   os.Args[1],
		BoundaryDir: getenv("GZ_DIR", "."),
		BufferKm:    getenvFloat("GZ_BUFFER_KM", 20),
		Overwrite:   getenvBool("GZ_OVERWRITE"),
		RunID:       getenv("GZ_RUN_ID", ""),
	}
	if v := os.Getenv("GZ_MODE"); v != "" {
		m, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			log.Error("bad_env_mode", "value", v, "err", err)
			os.Exit(2)
		}
		cfg.FileMode = os.FileMode(m)
	}

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			if err := metrics.Serve(addr); err != nil {
				log.Error("metrics_serve_failed", "addr", addr, "err", err)
			}
		}()
	}

	// 登记库可选：未开启时不建连接
	if getenvBool("GZ_REGISTRY") {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			log.Error("registry_connect_failed", "err", err)
			os.Exit(1)
		}
		reg := registry.Attach(db)
		if err := reg.EnsureSchema(); err != nil {
			log.Error("registry_schema_failed", "err", err)
			os.Exit(1)
		}
		defer reg.Close()
		cfg.Registry = reg
	}

	ctx := context.Background()
	switch mode := getenv("GZ_COMM", "local"); mode {
	case "local":
		if err := runLocal(ctx, cfg); err != nil {
			log.Error("run_failed", "err", err)
			os.Exit(1)
		}
	case "redis":
		if err := runRedis(ctx, cfg); err != nil {
			log.Error("run_failed", "err", err)
			os.Exit(1)
		}
	default:
		log.Error("bad_comm_mode", "mode", mode)
		os.Exit(2)
	}
}

// runLocal：进程内 worker 组；每个 rank 一个 goroutine，首个错误作为整次结果
func runLocal(ctx context.Context, cfg pipeline.Config) error {
	ranks := getenvInt("GZ_RANKS", 4)
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	comms, err := comm.NewLocalGroup(ranks)
	if err != nil {
		return err
	}
	errs := make([]error, ranks)
	var wg sync.WaitGroup
	for i := range comms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pipeline.Run(ctx, comms[i], cfg)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runRedis：本进程承担单个 rank，组成员经共享 Redis 会合
// 约束：GZ_RUN_ID 必须由调度方统一下发，各进程不得自行生成
func runRedis(ctx context.Context, cfg pipeline.Config) error {
	if cfg.RunID == "" {
		return fmt.Errorf("GZ_RUN_ID is required in redis mode")
	}
	rank := getenvInt("GZ_RANK", 0)
	size := getenvInt("GZ_RANKS", 1)
	c, err := comm.NewRedisComm(utils.OpenRedisFromEnv(), cfg.RunID, rank, size)
	if err != nil {
		return err
	}
	return pipeline.Run(ctx, c, cfg)
}
