package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "./config/local.yaml"

type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel     string       `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP         HTTP         `yaml:"http"`
	Postgres     PG           `yaml:"postgres"`
	Redis        Redis        `yaml:"redis"`
	Kafka        Kafka        `yaml:"kafka"`
	Outbox       Outbox       `yaml:"outbox"`
	Inventory    Inventory    `yaml:"inventory"`
	Payment      Payment      `yaml:"payment"`
	Shipping     Shipping     `yaml:"shipping"`
	Notification Notification `yaml:"notification"`
	SMTP         SMTP         `yaml:"smtp"`
	Limiter      Limiter      `yaml:"limiter"`
	Tracing      Tracing      `yaml:"tracing"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type PG struct {
	URL             string        `yaml:"url" env:"DB_URL"`
	MaxConns        int32         `yaml:"max_conns" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env-default:"1h"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env-default:"5s"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	GroupID      string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	MaxRetries   uint64        `yaml:"max_retries" env-default:"5"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env-default:"200ms"`
	DLQSuffix    string        `yaml:"dlq_suffix" env-default:".dlq"`
	Partitions   int           `yaml:"partitions" env-default:"3"`
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env-default:"50"`
	Interval    time.Duration `yaml:"interval" env-default:"500ms"`
	MaxAttempts int           `yaml:"max_attempts" env-default:"10"`
}

type Inventory struct {
	// Mode is "availability" (boolean sellable flag) or "stock" (quantity
	// reservations).
	Mode     string        `yaml:"mode" env:"INVENTORY_MODE" env-default:"availability"`
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"1m"`
	Breaker  Breaker       `yaml:"breaker"`
}

type Payment struct {
	Method          string        `yaml:"method" env-default:"card"`
	DeclineAbove    int64         `yaml:"decline_above" env:"PAYMENT_DECLINE_ABOVE" env-default:"1000000"`
	DeclinedMembers []int64       `yaml:"declined_members"`
	Latency         time.Duration `yaml:"latency" env-default:"0s"`
	Breaker         Breaker       `yaml:"breaker"`
}

type Shipping struct {
	LeadTime       time.Duration `yaml:"lead_time" env-default:"72h"`
	TrackingPrefix string        `yaml:"tracking_prefix" env-default:"TRK"`
}

type Notification struct {
	DedupWindow int `yaml:"dedup_window" env-default:"4096"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

type Breaker struct {
	MaxRequests  uint32        `yaml:"max_requests" env-default:"3"`
	Interval     time.Duration `yaml:"interval" env-default:"5s"`
	Timeout      time.Duration `yaml:"timeout" env-default:"10s"`
	MinRequests  uint32        `yaml:"min_requests" env-default:"5"`
	FailureRatio float64       `yaml:"failure_ratio" env-default:"0.6"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Tracing struct {
	// Endpoint is the OTLP/HTTP collector address. Empty disables export.
	Endpoint    string  `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
	SampleRatio float64 `yaml:"sample_ratio" env:"TRACE_SAMPLE_RATIO" env-default:"1"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
