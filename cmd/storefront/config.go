package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envHTTPAddr            = "STOREFRONT_HTTP_ADDR"
	envShutdownTimeout     = "STOREFRONT_SHUTDOWN_TIMEOUT"
	envStorageDriver       = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN         = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envOutboxPollInterval  = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending    = "STOREFRONT_OUTBOX_MAX_PENDING"
	envKafkaBrokers        = "KAFKA_BROKERS"
	envKafkaTopic          = "STOREFRONT_KAFKA_TOPIC"
	envKafkaDLQTopic       = "STOREFRONT_KAFKA_DLQ_TOPIC"
	envOTLPEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envLogLevel            = "STOREFRONT_LOG_LEVEL"
	envLogFormat           = "STOREFRONT_LOG_FORMAT"
)

type envLookup func(key string) (string, bool)

// configWarning описывает некорректную переменную окружения, вместо которой взято значение по умолчанию.
type configWarning struct {
	Key   string
	Value string
	Err   error
}

func (w configWarning) String() string {
	return fmt.Sprintf("%s=%q: %v", w.Key, w.Value, w.Err)
}

// readConfig читает конфигурацию из окружения процесса и логирует предупреждения.
func readConfig() app.Config {
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithFields(log.Fields{
			"env":   w.Key,
			"value": w.Value,
		}).WithError(w.Err).Warn("invalid environment value, using default")
	}
	return cfg
}

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
func readConfigFromEnv(lookup envLookup) (app.Config, []configWarning) {
	cfg := app.DefaultConfig()
	var warnings []configWarning

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	parse := func(key string, apply func(string) error) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := apply(v); err != nil {
			warnings = append(warnings, configWarning{Key: key, Value: v, Err: err})
		}
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envPostgresDSN, &cfg.PostgresDSN)
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	parse(envPostgresAutoMigrate, func(v string) (err error) {
		cfg.PostgresAutoMigrate, err = parseBoolOr(v, cfg.PostgresAutoMigrate)
		return err
	})
	parse(envShutdownTimeout, func(v string) (err error) {
		cfg.ShutdownTimeout, err = parseDurationOr(v, cfg.ShutdownTimeout, positiveDuration, "must be > 0")
		return err
	})
	parse(envOutboxPollInterval, func(v string) (err error) {
		cfg.OutboxPollInterval, err = parseDurationOr(v, cfg.OutboxPollInterval, positiveDuration, "must be > 0")
		return err
	})
	parse(envOutboxRetryDelay, func(v string) (err error) {
		cfg.OutboxRetryDelay, err = parseDurationOr(v, cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
		return err
	})
	parse(envOutboxBatchSize, func(v string) (err error) {
		cfg.OutboxBatchSize, err = parseIntOr(v, cfg.OutboxBatchSize, positive, "must be > 0")
		return err
	})
	parse(envOutboxMaxAttempts, func(v string) (err error) {
		cfg.OutboxMaxAttempts, err = parseIntOr(v, cfg.OutboxMaxAttempts, positive, "must be > 0")
		return err
	})
	parse(envOutboxMaxPending, func(v string) (err error) {
		cfg.OutboxMaxPending, err = parseIntOr(v, cfg.OutboxMaxPending, nonNegative, "must be >= 0")
		return err
	})

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if !valid(v) {
		return 0, fmt.Errorf("value %d %s", v, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if !valid(v) {
		return 0, fmt.Errorf("value %s %s", v, rule)
	}
	return v, nil
}

func parseBoolOr(raw string, fallback bool) (bool, error) {
	v, err := parseBool(raw)
	if err != nil {
		return fallback, err
	}
	return v, nil
}

func parseIntOr(raw string, fallback int, valid func(int) bool, rule string) (int, error) {
	v, err := parseInt(raw, valid, rule)
	if err != nil {
		return fallback, err
	}
	return v, nil
}

func parseDurationOr(raw string, fallback time.Duration, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := parseDuration(raw, valid, rule)
	if err != nil {
		return fallback, err
	}
	return v, nil
}

// setupLogger настраивает формат и уровень логирования.
func setupLogger(lookup envLookup) {
	format, _ := lookup(envLogFormat)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}
