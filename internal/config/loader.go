package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tariffops/htsflow/internal/db"
)

// Config is the full process configuration: database, HTTP server, blob
// store, and the importer/worker tuning knobs.
type Config struct {
	DB       db.Config
	Server   ServerConfig
	Blob     BlobConfig
	Importer ImporterConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Addr string
}

type BlobConfig struct {
	Dir       string
	Namespace string
}

type ImporterConfig struct {
	BatchSize        int
	PageSize         int
	DownloadTimeout  time.Duration
	MaxDownloadBytes int64
}

type WorkerConfig struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	MaxAttempts  int
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		DB: db.DefaultConfig(),
		Server: ServerConfig{
			Addr: ":8080",
		},
		Blob: BlobConfig{
			Dir:       "./data/blobs",
			Namespace: "hts",
		},
		Importer: ImporterConfig{
			BatchSize:        1000,
			PageSize:         1000,
			DownloadTimeout:  10 * time.Minute,
			MaxDownloadBytes: 512 << 20,
		},
		Worker: WorkerConfig{
			PollInterval: 5 * time.Second,
			BackoffBase:  30 * time.Second,
			MaxAttempts:  5,
		},
	}
}

// Load reads config.yaml from the given directory, with environment
// overrides under the HTSFLOW prefix (e.g. HTSFLOW_DATABASE_HOST).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("HTSFLOW")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("blob.dir")
	v.BindEnv("blob.namespace")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}

	if v.IsSet("blob.dir") {
		cfg.Blob.Dir = v.GetString("blob.dir")
	}
	if v.IsSet("blob.namespace") {
		cfg.Blob.Namespace = v.GetString("blob.namespace")
	}

	if v.IsSet("importer.batch_size") {
		cfg.Importer.BatchSize = v.GetInt("importer.batch_size")
	}
	if v.IsSet("importer.page_size") {
		cfg.Importer.PageSize = v.GetInt("importer.page_size")
	}
	if v.IsSet("importer.download_timeout") {
		cfg.Importer.DownloadTimeout = v.GetDuration("importer.download_timeout")
	}
	if v.IsSet("importer.max_download_bytes") {
		cfg.Importer.MaxDownloadBytes = v.GetInt64("importer.max_download_bytes")
	}

	if v.IsSet("worker.poll_interval") {
		cfg.Worker.PollInterval = v.GetDuration("worker.poll_interval")
	}
	if v.IsSet("worker.backoff_base") {
		cfg.Worker.BackoffBase = v.GetDuration("worker.backoff_base")
	}
	if v.IsSet("worker.max_attempts") {
		cfg.Worker.MaxAttempts = v.GetInt("worker.max_attempts")
	}

	return cfg, nil
}
