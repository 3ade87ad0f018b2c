package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SnapshotTTL           time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	InvoiceServiceURL     string
	InvoiceServiceToken   string
	InvoiceTimeout        time.Duration
	StockDebounce         time.Duration
	ServiceCharges        string
	SessionIdle           time.Duration
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; variables already set win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	snapshotTTL := positiveInt("SNAPSHOT_TTL_HOURS", 24)
	invoiceTimeout := positiveInt("INVOICE_TIMEOUT_SECONDS", 10)
	debounce := positiveInt("STOCK_DEBOUNCE_MS", 500)
	sessionIdle := positiveInt("SESSION_IDLE_MINUTES", 30)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SnapshotTTL:           time.Duration(snapshotTTL) * time.Hour,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		InvoiceServiceURL:     strings.TrimRight(getEnv("INVOICE_SERVICE_URL", "http://127.0.0.1:9000"), "/"),
		InvoiceServiceToken:   strings.TrimSpace(os.Getenv("INVOICE_SERVICE_TOKEN")),
		InvoiceTimeout:        time.Duration(invoiceTimeout) * time.Second,
		StockDebounce:         time.Duration(debounce) * time.Millisecond,
		ServiceCharges:        getEnv("SERVICE_CHARGES", "prescription=2000,compounded=3000,otc=0"),
		SessionIdle:           time.Duration(sessionIdle) * time.Minute,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
