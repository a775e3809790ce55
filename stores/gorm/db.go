package gorm

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	gormio "gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the SQL driver for a DSN. postgres:// and key=value
// DSNs go to PostgreSQL; mysql:// and user:pass@tcp(...) DSNs go to MySQL.
func Dialector(dsn string) (gormio.Dialector, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), nil
	case strings.Contains(dsn, "@tcp("), strings.Contains(dsn, "@unix("):
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database DSN: %q", redactDSN(dsn))
	}
}

// Open initializes the database connection with connection pooling
func Open(dsn string) (*gormio.DB, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	return OpenDialector(dialector)
}

// OpenDialector opens a connection with an explicit driver.
func OpenDialector(dialector gormio.Dialector) (*gormio.DB, error) {
	db, err := gormio.Open(dialector, &gormio.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// AutoMigrate creates or updates the orders and order_notes tables.
func AutoMigrate(db *gormio.DB) error {
	return db.AutoMigrate(&orderRecord{}, &noteRecord{})
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		return "***" + dsn[i:]
	}
	return dsn
}
