// Package config loads server configuration from the environment, with an
// optional .env file, the way the teacher's cmd/server did with plain
// os.Getenv — generalized here with viper so the exchange's expanded
// configuration surface (pool bounds, monitor feed) has a single,
// defaulted source of truth.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything cmd/server needs to start the exchange.
type Config struct {
	ListenHost string
	ListenPort int

	DatabaseDSN string

	// DBMaxOpenConns bounds the shared connection pool. spec.md §5 notes
	// the source uses 100.
	DBMaxOpenConns int
	DBMaxIdleConns int

	MonitorEnabled bool
	MonitorAddr    string
}

// Load reads configuration from (in increasing priority) defaults, an
// optional .env file and the process environment.
func Load() (*Config, error) {
	// Non-fatal if absent, exactly like the teacher's main.go.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 12345)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 100)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.addr", ":8080")

	cfg := &Config{
		ListenHost:     v.GetString("listen.host"),
		ListenPort:     v.GetInt("listen.port"),
		DatabaseDSN:    v.GetString("db.dsn"),
		DBMaxOpenConns: v.GetInt("db.max_open_conns"),
		DBMaxIdleConns: v.GetInt("db.max_idle_conns"),
		MonitorEnabled: v.GetBool("monitor.enabled"),
		MonitorAddr:    v.GetString("monitor.addr"),
	}

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("config: EXCHANGE_DB_DSN (database DSN) is required")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return nil, fmt.Errorf("config: db.max_open_conns must be positive")
	}

	return cfg, nil
}
