package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Database struct {
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint  string `mapstructure:"ENDPOINT"`
		AccessKey string `mapstructure:"ACCESS_KEY"`
		SecretKey string `mapstructure:"SECRET_KEY"`
		Secure    bool   `mapstructure:"SECURE"`
		PublicURL string `mapstructure:"PUBLIC_URL"`
	} `mapstructure:"MINIO"`
	Storage struct {
		Bucket       string `mapstructure:"BUCKET"`
		InputPrefix  string `mapstructure:"INPUT_PREFIX"`
		ResultPrefix string `mapstructure:"RESULT_PREFIX"`
		ThumbPrefix  string `mapstructure:"THUMB_PREFIX"`
	} `mapstructure:"STORAGE"`
	Inference struct {
		Endpoint       string          `mapstructure:"ENDPOINT"`
		APIKey         string          `mapstructure:"API_KEY"`
		Model          string          `mapstructure:"MODEL"`
		RequestTimeout time.Duration   `mapstructure:"REQUEST_TIMEOUT"`
		Backoff        []time.Duration `mapstructure:"BACKOFF"`
	} `mapstructure:"INFERENCE"`
	Queue struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
		MaxPriority int `mapstructure:"MAX_PRIORITY"`
	} `mapstructure:"QUEUE"`
	Lock struct {
		TTL time.Duration `mapstructure:"TTL"`
	} `mapstructure:"LOCK"`
	Snapshot struct {
		TTL time.Duration `mapstructure:"TTL"`
	} `mapstructure:"SNAPSHOT"`
	Otel bool `mapstructure:"OTEL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults() {
	config.SetDefault("HTTP_SERVER.ADDR", ":8080")
	config.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	config.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	config.SetDefault("REDIS.POOL_SIZE", 10)

	config.SetDefault("STORAGE.BUCKET", "pixelforge")
	config.SetDefault("STORAGE.INPUT_PREFIX", "input")
	config.SetDefault("STORAGE.RESULT_PREFIX", "results")
	config.SetDefault("STORAGE.THUMB_PREFIX", "thumbnails")

	config.SetDefault("INFERENCE.REQUEST_TIMEOUT", 120*time.Second)
	config.SetDefault("INFERENCE.BACKOFF", []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second})

	config.SetDefault("QUEUE.CONCURRENCY", 10)
	config.SetDefault("QUEUE.MAX_PRIORITY", 9)

	config.SetDefault("LOCK.TTL", 900*time.Second)
	config.SetDefault("SNAPSHOT.TTL", time.Hour)
}
