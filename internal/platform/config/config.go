package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	Import    ImportConfig    `mapstructure:"import"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Products  ProductsConfig  `mapstructure:"products"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// QueueConfig describes the job broker. An empty URL selects the in-process
// queue, which runs jobs on goroutines inside the API server.
type QueueConfig struct {
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	PrefetchCount int    `mapstructure:"prefetch_count"`
}

type UploadsConfig struct {
	Dir           string `mapstructure:"dir"`
	MaxChunkBytes int64  `mapstructure:"max_chunk_bytes"`
}

type ImportConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

type WebhooksConfig struct {
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	UserAgent   string        `mapstructure:"user_agent"`
}

type ProductsConfig struct {
	// BulkDeleteAsyncThreshold is the id count at which a bulk delete is
	// routed to a background job instead of completing in the request path.
	// A load-shedding heuristic, not a hard boundary.
	BulkDeleteAsyncThreshold int `mapstructure:"bulk_delete_async_threshold"`
}

type RateLimitConfig struct {
	WritePerSecond float64 `mapstructure:"write_per_second"`
	WriteBurst     int     `mapstructure:"write_burst"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/stockr.db")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("queue.name", "stockr.jobs")
	viper.SetDefault("queue.prefetch_count", 8)
	viper.SetDefault("uploads.dir", "data/uploads")
	viper.SetDefault("uploads.max_chunk_bytes", 5*1024*1024)
	viper.SetDefault("import.chunk_size", 500)
	viper.SetDefault("webhooks.backoff_base", time.Second)
	viper.SetDefault("webhooks.user_agent", "stockr-webhook/1.0")
	viper.SetDefault("products.bulk_delete_async_threshold", 100)
	viper.SetDefault("rate_limit.write_per_second", 50)
	viper.SetDefault("rate_limit.write_burst", 100)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
