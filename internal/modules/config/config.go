package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token       string `yaml:"token"`
		AdminChatID int64  `yaml:"admin_chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	// Окно свежести сигнала. В исходной системе константа гуляла от 30s до
	// "не задано", поэтому здесь это явный параметр.
	SignalFreshness time.Duration `yaml:"signal_freshness"`

	// Сентимент: период пересчёта вердикта. Staleness = 2 * cadence.
	VerdictCadence time.Duration `yaml:"verdict_cadence"`

	// Диагностика
	MonitorInterval time.Duration `yaml:"monitor_interval"` // лёгкий мониторинг connectivity+auth
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`

	// Коннекторы
	ConnectorTimeout time.Duration `yaml:"connector_timeout"`
	RecvWindowMS     int64         `yaml:"recv_window_ms"`

	// Фан-аут
	FanoutConcurrency int           `yaml:"fanout_concurrency"`
	FanoutTimeout     time.Duration `yaml:"fanout_timeout"`   // дедлайн на весь батч
	FailureCooldown   time.Duration `yaml:"failure_cooldown"` // пауза (user, instrument) после провала

	// Периодическое обновление балансов/позиций
	BalanceRefreshInterval  time.Duration `yaml:"balance_refresh_interval"`
	PositionRefreshInterval time.Duration `yaml:"position_refresh_interval"`

	// Оракул (внешний reasoning-сервис)
	OracleTimeout time.Duration `yaml:"oracle_timeout"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		SignalFreshness: durationFromEnv("SIGNAL_FRESHNESS", "5m"),
		VerdictCadence:  durationFromEnv("VERDICT_CADENCE", "15m"),

		MonitorInterval: durationFromEnv("MONITOR_INTERVAL", "2m"),
		ProbeTimeout:    durationFromEnv("PROBE_TIMEOUT", "5s"),

		ConnectorTimeout: durationFromEnv("CONNECTOR_TIMEOUT", "15s"),
		RecvWindowMS:     int64(intFromEnv("RECV_WINDOW_MS", 5000)),

		FanoutConcurrency: intFromEnv("FANOUT_CONCURRENCY", 4),
		FanoutTimeout:     durationFromEnv("FANOUT_TIMEOUT", "2m"),
		FailureCooldown:   durationFromEnv("FAILURE_COOLDOWN", "2m"),

		BalanceRefreshInterval:  durationFromEnv("BALANCE_REFRESH_INTERVAL", "3m"),
		PositionRefreshInterval: durationFromEnv("POSITION_REFRESH_INTERVAL", "5m"),

		OracleTimeout: durationFromEnv("ORACLE_TIMEOUT", "20s"),
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	return &config, nil
}

func getenvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("env %s is required", key))
	}
	return v
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
