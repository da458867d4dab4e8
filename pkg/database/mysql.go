// Package database 持有 MySQL 与 Redis 的全局连接。
package database

import (
	"time"

	"chatfabrica-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// 连接池参数。
const (
	maxIdleConns    = 10
	maxOpenConns    = 100
	connMaxLifetime = time.Hour
)

// InitMySQL 连接 MySQL，并对传入的模型执行 AutoMigrate。失败时直接退出进程。
func InitMySQL(dsn string, models ...interface{}) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			log.Fatal("failed to migrate database", err)
		}
	}

	DB = db
	log.Infow("MySQL database connected successfully", "models", len(models))
}

// Close 关闭 MySQL 与 Redis 连接，停机时调用。
func Close() {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Errorf("关闭 MySQL 连接失败: %v", err)
			}
		}
	}
	if RDB != nil {
		if err := RDB.Close(); err != nil {
			log.Errorf("关闭 Redis 连接失败: %v", err)
		}
	}
}
