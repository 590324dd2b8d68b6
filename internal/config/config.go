package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"creditledger/pkg/money"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port   int   `mapstructure:"port"`
	NodeID int64 `mapstructure:"node_id"` // snowflake node, unique per instance
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // mysql | postgres
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BillingEvents string `mapstructure:"billing_events"`
	PaymentEvents string `mapstructure:"payment_events"`
}

// BillingConfig prices usage and sizes the initial grant. Amounts are decimal
// currency units, quoted or not ("2.00" and 2 are the same).
type BillingConfig struct {
	InitialGrant money.Amount `mapstructure:"initial_grant"`
	RatePerUnit  money.Amount `mapstructure:"rate_per_unit"`
	UnitSeconds  int64        `mapstructure:"unit_seconds"`
}

type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature_header"`
}

type JobsConfig struct {
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `mapstructure:"reconcile_stale_after"`
	ReconcileBatchSize  int           `mapstructure:"reconcile_batch_size"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize     int           `mapstructure:"outbox_batch_size"`
	OutboxMaxRetry      int           `mapstructure:"outbox_max_retry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.node_id", 1)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "creditledger")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.query_timeout", "3s")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.billing_events", "billing_events")
	v.SetDefault("kafka.topic.payment_events", "payment_events")

	v.SetDefault("billing.initial_grant", "2.00")
	v.SetDefault("billing.rate_per_unit", "2.00")
	v.SetDefault("billing.unit_seconds", 600)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "X-Signature")

	v.SetDefault("jobs.reconcile_interval", "30s")
	v.SetDefault("jobs.reconcile_stale_after", "5m")
	v.SetDefault("jobs.reconcile_batch_size", 50)
	v.SetDefault("jobs.outbox_interval", "500ms")
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.outbox_max_retry", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration.
//
// Order of precedence: environment (LEDGER_ prefix, e.g.
// LEDGER_WEBHOOK_SECRET), then the YAML file, then defaults. A .env file next
// to the working directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		amountHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var amountType = reflect.TypeOf(money.Amount(0))

// amountHookFunc reads YAML numbers bound for a money.Amount as currency
// units. Without it mapstructure would copy 2 in as 2/10000 and truncate 2.5.
func amountHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != amountType {
			return data, nil
		}
		var text string
		switch v := reflect.ValueOf(data); from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			text = strconv.FormatInt(v.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			text = strconv.FormatUint(v.Uint(), 10)
		case reflect.Float32, reflect.Float64:
			text = strconv.FormatFloat(v.Float(), 'f', -1, 64)
		default:
			return data, nil
		}
		amount, err := money.Parse(text)
		if err != nil {
			return nil, err
		}
		return amount, nil
	}
}

// Validate rejects configurations the ledger cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Billing.UnitSeconds <= 0 {
		return fmt.Errorf("config: billing.unit_seconds must be positive")
	}
	if c.Billing.RatePerUnit.IsNegative() {
		return fmt.Errorf("config: billing.rate_per_unit must not be negative")
	}
	if c.Billing.InitialGrant.IsNegative() {
		return fmt.Errorf("config: billing.initial_grant must not be negative")
	}
	if c.Jobs.ReconcileInterval <= 0 {
		return fmt.Errorf("config: jobs.reconcile_interval must be positive")
	}
	if c.Jobs.OutboxInterval <= 0 {
		return fmt.Errorf("config: jobs.outbox_interval must be positive")
	}
	if c.Jobs.OutboxMaxRetry <= 0 {
		return fmt.Errorf("config: jobs.outbox_max_retry must be positive")
	}
	return nil
}
