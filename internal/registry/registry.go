// 包 registry：运行登记库，记录每次掩膜计算的输入、参数与命中统计
// 背景：批量回算覆盖上千颗粒，登记库用于跨运行追踪产出与命中率；未配置时整体可关闭
package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"gz-mask/internal/logger"
)

// Registry：登记库访问入口
type Registry struct {
	db *sql.DB
}

// Attach：挂接既有连接
func Attach(db *sql.DB) *Registry { return &Registry{db: db} }

// Close：关闭连接
func (r *Registry) Close() error { return r.db.Close() }

// EnsureSchema：首次运行自动创建所需表
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func (r *Registry) EnsureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _gz_runs (
            id UUID PRIMARY KEY,
            input_file TEXT NOT NULL,
            output_file TEXT NOT NULL DEFAULT '',
            hemisphere TEXT NOT NULL,
            buffer_km DOUBLE PRECISION NOT NULL,
            ranks INT NOT NULL,
            total_points BIGINT NOT NULL DEFAULT 0,
            masked_points BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_gz_runs_input ON _gz_runs(input_file)`,
		`CREATE TABLE IF NOT EXISTS _gz_run_beams (
            run_id UUID NOT NULL REFERENCES _gz_runs(id),
            beam TEXT NOT NULL,
            n_points BIGINT NOT NULL,
            n_masked BIGINT NOT NULL,
            PRIMARY KEY (run_id, beam)
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("registry_schema_exec", "idx", i)
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("registry: ensure schema: %w", err)
		}
	}
	logger.L().Debug("registry_schema_done")
	return nil
}

// Run：一次掩膜计算的登记行
type Run struct {
	ID           string
	InputFile    string
	OutputFile   string // 无事输出（no-op）时为空
	Hemisphere   string
	BufferKm     float64
	Ranks        int
	TotalPoints  int
	MaskedPoints int
}

// BeamCount：逐光束命中统计
type BeamCount struct {
	Beam   string
	Points int
	Masked int
}

// RecordRun：事务写入运行记录与逐光束统计；ID 为空时生成
func (r *Registry) RecordRun(ctx context.Context, run Run, beams []BeamCount) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("registry: begin: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO _gz_runs(id, input_file, output_file, hemisphere, buffer_km, ranks, total_points, masked_points)
         VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID, run.InputFile, run.OutputFile, run.Hemisphere, run.BufferKm, run.Ranks,
		run.TotalPoints, run.MaskedPoints)
	if err != nil {
		return "", fmt.Errorf("registry: insert run: %w", err)
	}
	for _, b := range beams {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO _gz_run_beams(run_id, beam, n_points, n_masked) VALUES($1,$2,$3,$4)`,
			run.ID, b.Beam, b.Points, b.Masked)
		if err != nil {
			return "", fmt.Errorf("registry: insert beam %s: %w", b.Beam, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("registry: commit: %w", err)
	}
	logger.L().Info("run_recorded", "run_id", run.ID, "masked", run.MaskedPoints)
	return run.ID, nil
}
