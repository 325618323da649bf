package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"

	"VoiceFM/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "root",
		DBPassword: "p@ss",
		DBHost:     "127.0.0.1",
		DBPort:     "3306",
		DBName:     "voicefm",
	}
	dsn := DSN(cfg)
	assert.Contains(t, dsn, "root:p@ss@tcp(127.0.0.1:3306)/voicefm?")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, gormLevel("debug"))
	assert.Equal(t, gormlogger.Error, gormLevel("error"))
	assert.Equal(t, gormlogger.Warn, gormLevel("info"))
}

func TestAutoMigrateWithoutConnection(t *testing.T) {
	assert.Error(t, AutoMigrate())
	assert.NoError(t, CloseGormDB())
}
