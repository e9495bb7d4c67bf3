package db

import (
	"strings"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/roundhouse/internal/config"
	"github.com/zulandar/roundhouse/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		user     string
		password string
		database string
	}{
		{"default local", "127.0.0.1", 3306, "root", "", "roundhouse"},
		{"with password", "db.internal", 3307, "rh", "s3cret", "rh_prod"},
		{"admin", "localhost", 3306, "root", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := MySQLDSN(tt.host, tt.port, tt.user, tt.password, tt.database)
			if !strings.Contains(dsn, "parseTime=true") {
				t.Errorf("DSN missing parseTime=true: %s", dsn)
			}
			parsed, err := mysqldriver.ParseDSN(dsn)
			if err != nil {
				t.Fatalf("ParseDSN(%q): %v", dsn, err)
			}
			if parsed.User != tt.user || parsed.Passwd != tt.password || parsed.DBName != tt.database {
				t.Errorf("parsed = %s/%s/%s, want %s/%s/%s", parsed.User, parsed.Passwd, parsed.DBName, tt.user, tt.password, tt.database)
			}
			if parsed.Net != "tcp" {
				t.Errorf("Net = %q, want tcp", parsed.Net)
			}
		})
	}
}

func TestConnect_SQLiteMigrates(t *testing.T) {
	db, err := Connect(config.StoreConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(db)

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}

	row := models.GenerationLog{Provider: "openai", Model: "gpt-4o", Tokens: 10}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if row.ID == 0 {
		t.Error("expected auto-increment id")
	}
}

func TestConnect_MemoryDriverRejected(t *testing.T) {
	if _, err := Connect(config.StoreConfig{Driver: config.DriverMemory}); err == nil {
		t.Fatal("expected error for memory driver")
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 3 {
		t.Errorf("AllModels() returned %d models, want 3", n)
	}
}

func TestConnectMySQL_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server.
	_, err := ConnectMySQL("127.0.0.1", 1, "root", "", "nonexistent")
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: admin connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: admin connect to")
	}
}
