package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/routing"
	"github.com/BaSui01/routex/tee"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 💾 持久化存储
// =============================================================================

// Config 数据库配置
type Config struct {
	// Driver 取值 sqlite / postgres / mysql
	Driver string `yaml:"driver" json:"driver"`
	// DSN 连接串；sqlite 为文件路径或 :memory:
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxOpenConns 最大打开连接数，0 使用默认 25
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	// MaxIdleConns 最大空闲连接数，0 使用默认 5
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
	// ConnMaxLifetime 连接最大生命周期，0 使用默认 5 分钟
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Store 关系型配置与日志存储
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开数据库并迁移表结构
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "routex.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := configurePool(db, cfg); err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger.With(zap.String("component", "store"))}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// configurePool 设置底层连接池参数
func configurePool(db *gorm.DB, cfg Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("access sql db: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

// migrate 自动迁移所有表格
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&ChannelRecord{},
		&RuleRecord{},
		&TeeDestinationRecord{},
		&RequestLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB 返回底层连接（测试与运维用）
func (s *Store) DB() *gorm.DB {
	return s.db
}

// =============================================================================
// 📡 渠道
// =============================================================================

// ListChannels 加载全部渠道
func (s *Store) ListChannels() ([]*channel.Channel, error) {
	var records []ChannelRecord
	if err := s.db.Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make([]*channel.Channel, 0, len(records))
	for i := range records {
		c, err := records[i].ToChannel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetChannel 按 id 加载渠道
func (s *Store) GetChannel(id string) (*channel.Channel, error) {
	var record ChannelRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return record.ToChannel()
}

// SaveChannel 新建或整体更新渠道
func (s *Store) SaveChannel(c *channel.Channel) error {
	record, err := ChannelToRecord(c)
	if err != nil {
		return err
	}
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}
	if err := s.db.Save(record).Error; err != nil {
		return fmt.Errorf("save channel %s: %w", c.Name, err)
	}
	return nil
}

// DeleteChannel 删除渠道
func (s *Store) DeleteChannel(id string) error {
	res := s.db.Delete(&ChannelRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete channel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// 🧭 路由规则
// =============================================================================

// ListRules 按优先级降序加载全部规则
func (s *Store) ListRules() ([]*routing.Rule, error) {
	var records []RuleRecord
	if err := s.db.Order("priority desc, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]*routing.Rule, 0, len(records))
	for i := range records {
		r, err := records[i].ToRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRule 按 id 加载规则
func (s *Store) GetRule(id string) (*routing.Rule, error) {
	var record RuleRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return record.ToRule()
}

// SaveRule 新建或整体更新规则
func (s *Store) SaveRule(rule *routing.Rule) error {
	record, err := RuleToRecord(rule)
	if err != nil {
		return err
	}
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}
	if err := s.db.Save(record).Error; err != nil {
		return fmt.Errorf("save rule %s: %w", rule.Name, err)
	}
	return nil
}

// DeleteRule 删除规则
func (s *Store) DeleteRule(id string) error {
	res := s.db.Delete(&RuleRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// 📤 Tee 目的地
// =============================================================================

// ListDestinations 加载全部目的地
func (s *Store) ListDestinations() ([]*tee.Destination, error) {
	var records []TeeDestinationRecord
	if err := s.db.Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	out := make([]*tee.Destination, 0, len(records))
	for i := range records {
		d, err := records[i].ToDestination()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// GetDestination 按 id 加载目的地
func (s *Store) GetDestination(id string) (*tee.Destination, error) {
	var record TeeDestinationRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get destination: %w", err)
	}
	return record.ToDestination()
}

// SaveDestination 新建或整体更新目的地
func (s *Store) SaveDestination(d *tee.Destination) error {
	record, err := DestinationToRecord(d)
	if err != nil {
		return err
	}
	if err := s.db.Save(record).Error; err != nil {
		return fmt.Errorf("save destination %s: %w", d.Name, err)
	}
	return nil
}

// DeleteDestination 删除目的地
func (s *Store) DeleteDestination(id string) error {
	res := s.db.Delete(&TeeDestinationRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete destination: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// 📜 请求日志
// =============================================================================

// InsertRequestLog 追加一条请求日志
func (s *Store) InsertRequestLog(log *RequestLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	if err := s.db.Create(log).Error; err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// RecentRequestLogs 最近 limit 条日志，按时间降序
func (s *Store) RecentRequestLogs(limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []RequestLog
	if err := s.db.Order("ts desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("query request logs: %w", err)
	}
	return logs, nil
}

// PruneRequestLogs 删除 before 之前的日志，返回删除行数
func (s *Store) PruneRequestLogs(before time.Time) (int64, error) {
	res := s.db.Delete(&RequestLog{}, "ts < ?", before)
	if res.Error != nil {
		return 0, fmt.Errorf("prune request logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
