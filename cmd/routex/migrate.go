package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/routex/internal/store"
)

// =============================================================================
// 数据库迁移命令
// =============================================================================

// runMigrate 建表或升级表结构（gorm AutoMigrate，幂等）
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	base, level := initLogger(cfg.Log)
	defer base.Sync()
	logger := base.WithOptions(zap.IncreaseLevel(level))

	// Open 内部执行 AutoMigrate
	db, err := store.Open(store.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN(),
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	sqlDB, err := db.DB().DB()
	if err == nil {
		defer sqlDB.Close()
	}

	logger.Info("migration completed",
		zap.String("driver", cfg.Database.Driver),
	)
	fmt.Println("Migration completed: channels, routing_rules, tee_destinations, request_logs")
}
