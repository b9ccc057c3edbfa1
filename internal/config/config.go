package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"uwblink/internal/utils"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	// AccessoryName identifies the accessory in MQTT topics and the journal.
	AccessoryName string

	BLEAdapter     string
	BLELocalName   string
	BLEScanTimeout time.Duration

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	SQLitePath string
	SQLiteDSN  string

	// SerialPort is the accessory's USB console; empty disables the monitor.
	SerialPort string
	SerialBaud int

	// HTTPAddr serves the read-only status API; empty disables it.
	HTTPAddr string

	// ShareableConfig is the NearbyInteraction configuration blob sent with
	// ConfigureAndStart. Empty means the session stops after receiving the
	// accessory configuration.
	ShareableConfig []byte
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	accessoryName := envOr("ACCESSORY_NAME", "esp32-uwb")
	if strings.ContainsAny(accessoryName, "/+#") {
		return Config{}, fmt.Errorf("invalid ACCESSORY_NAME %q: must not contain '/', '+' or '#'", accessoryName)
	}

	scanTimeoutStr := envOr("BLE_SCAN_TIMEOUT", "30s")
	scanTimeout, err := time.ParseDuration(scanTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BLE_SCAN_TIMEOUT %q: %w", scanTimeoutStr, err)
	}
	if scanTimeout < 0 {
		return Config{}, fmt.Errorf("BLE_SCAN_TIMEOUT must not be negative, got %v", scanTimeout)
	}

	mqttPortStr := envOr("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	serialBaudStr := envOr("SERIAL_BAUD", "115200")
	serialBaud, err := strconv.Atoi(serialBaudStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SERIAL_BAUD %q: %w", serialBaudStr, err)
	}
	if serialBaud <= 0 {
		return Config{}, fmt.Errorf("SERIAL_BAUD must be positive, got %d", serialBaud)
	}

	var shareable []byte
	if s := strings.TrimSpace(os.Getenv("NI_SHAREABLE_CONFIG")); s != "" {
		shareable, err = utils.ParseHexString(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NI_SHAREABLE_CONFIG: %w", err)
		}
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		AccessoryName:   accessoryName,
		BLEAdapter:      envOr("BLE_ADAPTER", "hci0"),
		BLELocalName:    strings.TrimSpace(os.Getenv("BLE_LOCAL_NAME")),
		BLEScanTimeout:  scanTimeout,
		MQTTBroker:      envOr("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    envOr("MQTT_CLIENT_ID", "uwblink"),
		SQLitePath:      envOr("SQLITE_PATH", "data/uwblink.db"),
		SQLiteDSN:       strings.TrimSpace(os.Getenv("SQLITE_DSN")),
		SerialPort:      strings.TrimSpace(os.Getenv("SERIAL_PORT")),
		SerialBaud:      serialBaud,
		ShareableConfig: shareable,
		HTTPAddr:        strings.TrimSpace(os.Getenv("HTTP_ADDR")),
	}, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
