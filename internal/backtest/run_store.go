package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"statarb/internal/strategy/pairs"
)

// runModel 落库的回测记录，明细以 JSON 列冗余存储。
type runModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Pair        string         `gorm:"column:pair;index"`
	Status      string         `gorm:"column:status"`
	Message     string         `gorm:"column:message"`
	ReturnPct   float64        `gorm:"column:return_pct"`
	WinRate     float64        `gorm:"column:win_rate"`
	MaxDrawdown float64        `gorm:"column:max_drawdown"`
	Sharpe      float64        `gorm:"column:sharpe"`
	Trades      int            `gorm:"column:trades"`
	ConfigJSON  datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON   datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	TradesJSON  datatypes.JSON `gorm:"column:trades_json;type:TEXT"`
	EquityJSON  datatypes.JSON `gorm:"column:equity_json;type:TEXT"`
	CreatedAt   int64          `gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt   int64          `gorm:"column:updated_at;autoUpdateTime:milli"`
	CompletedAt int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

// ResultStore 管理回测结果库。
type ResultStore struct {
	db   *gorm.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveReport 将完成的回测报告落库，返回分配的 run ID。
func (s *ResultStore) SaveReport(ctx context.Context, report *Report) error {
	if report == nil {
		return fmt.Errorf("report 不能为空")
	}
	cfgJSON, err := json.Marshal(report.Config)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(report.Stats)
	if err != nil {
		return err
	}
	tradesJSON, err := json.Marshal(report.Trades)
	if err != nil {
		return err
	}
	equityJSON, err := json.Marshal(report.Equity)
	if err != nil {
		return err
	}
	row := runModel{
		ID:          uuid.NewString(),
		Pair:        report.Pair.String(),
		Status:      RunStatusDone,
		ReturnPct:   report.Stats.TotalReturnPct,
		WinRate:     report.Stats.WinRate,
		MaxDrawdown: report.Stats.MaxDrawdownPct,
		Sharpe:      report.Stats.Sharpe,
		Trades:      report.Stats.TotalTrades,
		ConfigJSON:  datatypes.JSON(cfgJSON),
		StatsJSON:   datatypes.JSON(statsJSON),
		TradesJSON:  datatypes.JSON(tradesJSON),
		EquityJSON:  datatypes.JSON(equityJSON),
		CompletedAt: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// UpdateRunStatus 更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	updates := map[string]any{"status": status, "message": message}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var row runModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return row.toRun()
}

// GetReport 还原完整报告（含交易明细与权益曲线）。
func (s *ResultStore) GetReport(ctx context.Context, id string) (*Report, error) {
	var row runModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	run, err := row.toRun()
	if err != nil {
		return nil, err
	}
	report := &Report{
		Pair:   pairs.NewPairKey(run.Config.Symbol1, run.Config.Symbol2),
		Config: run.Config,
		Stats:  run.Stats,
	}
	if len(row.TradesJSON) > 0 {
		if err := json.Unmarshal(row.TradesJSON, &report.Trades); err != nil {
			return nil, err
		}
	}
	if len(row.EquityJSON) > 0 {
		if err := json.Unmarshal(row.EquityJSON, &report.Equity); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (m runModel) toRun() (Run, error) {
	run := Run{
		ID:        m.ID,
		Pair:      m.Pair,
		Status:    m.Status,
		Message:   m.Message,
		CreatedAt: timeFromMillis(m.CreatedAt),
		UpdatedAt: timeFromMillis(m.UpdatedAt),
	}
	if m.CompletedAt > 0 {
		run.CompletedAt = timeFromMillis(m.CompletedAt)
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
