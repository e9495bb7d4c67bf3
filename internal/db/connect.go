// Package db opens the gorm connection behind the persistent stores.
package db

import (
	"fmt"
	"net"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/roundhouse/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a DSN for a MySQL server. database may be empty for an
// admin connection.
func MySQLDSN(host string, port int, user, password, database string) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

// Connect opens the database selected by cfg. The memory driver has no
// database and is rejected.
func Connect(cfg config.StoreConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return ConnectSQLite(cfg.Path)
	case config.DriverMySQL:
		return ConnectMySQL(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
	default:
		return nil, fmt.Errorf("db: driver %q has no database", cfg.Driver)
	}
}

// ConnectSQLite opens a SQLite database at path (":memory:" for a
// throwaway database). Writes are serialized through one connection.
func ConnectSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// ConnectMySQL creates the database if needed and opens it.
func ConnectMySQL(host string, port int, user, password, database string) (*gorm.DB, error) {
	admin, err := ConnectAdmin(host, port, user, password)
	if err != nil {
		return nil, err
	}
	if err := CreateDatabase(admin, database); err != nil {
		return nil, err
	}
	if sqlDB, err := admin.DB(); err == nil {
		sqlDB.Close()
	}

	db, err := gorm.Open(mysql.Open(MySQLDSN(host, port, user, password, database)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// ConnectAdmin opens a connection to the MySQL server without selecting a
// database, used for CREATE DATABASE.
func ConnectAdmin(host string, port int, user, password string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(MySQLDSN(host, port, user, password, "")), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", host, port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
