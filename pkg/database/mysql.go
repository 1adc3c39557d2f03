package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"webrag-go/internal/config"
	"webrag-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 API 服务进程使用的 GORM 连接
func InitMySQL(cfg config.MySQLConfig) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		log.Fatal("invalid mysql dsn", err)
	}
	DB, err = gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	configurePool(sqlDB, cfg)

	log.Info("MySQL database connected successfully")
}

// OpenSQL 为 worker 进程打开独立的 database/sql 连接池，不经过 GORM。
func OpenSQL(cfg config.MySQLConfig) (*sql.DB, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	configurePool(db, cfg)
	return db, nil
}

// normalizeDSN 强制 parseTime 与 UTC，保证两种台账实现读出的时间一致。
func normalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if _, ok := mc.Params["charset"]; !ok {
		mc.Params["charset"] = "utf8mb4"
	}
	return mc.FormatDSN(), nil
}

func configurePool(db *sql.DB, cfg config.MySQLConfig) {
	maxIdle, maxOpen, lifetime := cfg.MaxIdleConns, cfg.MaxOpenConns, cfg.ConnMaxLifetime
	if maxIdle <= 0 {
		maxIdle = 10
	}
	if maxOpen <= 0 {
		maxOpen = 100
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetMaxIdleConns(maxIdle)     // 设置空闲连接池中连接的最大数量
	db.SetMaxOpenConns(maxOpen)     // 设置打开数据库连接的最大数量
	db.SetConnMaxLifetime(lifetime) // 设置了连接可复用的最大时间
}
