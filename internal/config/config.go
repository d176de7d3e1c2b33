package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC health endpoint

	// DB
	Env         string // "dev" | "prod"
	Store       string // "sqlite" | "memory"
	DBPath      string // e.g. "./data/qraccess.db"
	BusyTimeout time.Duration

	PolicyFile string // optional YAML policy; defaults apply when empty
	LogLevel   string // "debug" | "info" | "warn" | "error"

	// SeedDev seeds the starter roster on startup (dev only).
	SeedDev bool
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("QRACCESS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	storeKind := strings.ToLower(getenvDefault("QRACCESS_STORE", "sqlite"))
	if storeKind != "sqlite" && storeKind != "memory" {
		storeKind = "sqlite"
	}

	return Config{
		HTTPAddr: getenvDefault("QRACCESS_HTTP_ADDR", ":8080"),
		GRPCAddr: os.Getenv("QRACCESS_GRPC_ADDR"),

		Env:         env,
		Store:       storeKind,
		DBPath:      getenvDefault("QRACCESS_DB_PATH", "./data/qraccess.db"),
		BusyTimeout: time.Duration(getenvInt("QRACCESS_DB_BUSY_TIMEOUT_MS", 5000)) * time.Millisecond,

		PolicyFile: os.Getenv("QRACCESS_POLICY_FILE"),
		LogLevel:   strings.ToLower(getenvDefault("QRACCESS_LOG_LEVEL", "info")),

		SeedDev: env == "dev" && getenvBool("QRACCESS_SEED_DEV"),
	}
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

func getenvDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
