// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf 是进程级的全局配置，由 Init 填充。
var Conf Config

// Config 与 configs/config.yaml 的结构一一对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Reaper        ReaperConfig        `mapstructure:"reaper"`
	Fetcher       FetcherConfig       `mapstructure:"fetcher"`
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Query         QueryConfig         `mapstructure:"query"`
	Seed          SeedConfig          `mapstructure:"seed"`
}

// ServerConfig 存储 HTTP 服务相关的配置。
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	Version string `mapstructure:"version"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储任务台账所在 MySQL 的配置。server 与 worker 各自建连接池。
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储任务分发使用的 Kafka 配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// BrokerList 把逗号分隔的 brokers 拆成切片。
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// WorkerConfig 控制 worker 进程的并发与单任务执行上限。
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// ReaperConfig 控制卡死任务清理器。
type ReaperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Grace     time.Duration `mapstructure:"grace"`
	BatchSize int           `mapstructure:"batch_size"`
}

// FetcherConfig 控制网页抓取。
type FetcherConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// ChunkerConfig 控制文本切块。
type ChunkerConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// VectorStoreConfig 选择向量索引后端。driver 取值 elasticsearch、pgvector 或 memory（仅单进程调试）。
type VectorStoreConfig struct {
	Driver     string `mapstructure:"driver"`
	Collection string `mapstructure:"collection"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Insecure  bool   `mapstructure:"insecure"`
}

// PostgresConfig 存储 pgvector 后端的连接配置。
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// MinIOConfig 存储原始网页归档的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。provider 取值 gemini 或 openai。
type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	DocumentPrefix    string        `mapstructure:"document_prefix"`
	QueryPrefix       string        `mapstructure:"query_prefix"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig 存储大语言模型相关的配置。provider 取值 gemini 或 openai。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	TopK        int     `mapstructure:"top_k"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// QueryConfig 控制查询接口的默认值与上限。
type QueryConfig struct {
	DefaultTopK        int `mapstructure:"default_top_k"`
	MaxTopK            int `mapstructure:"max_top_k"`
	SourcePreviewChars int `mapstructure:"source_preview_chars"`
}

// SeedConfig 指定启动时自动提交的 URL 列表文件（每行一个，# 开头为注释）。
type SeedConfig struct {
	URLsFile string `mapstructure:"urls_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.version", "1.0.0")

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.mysql.max_open_conns", 20)
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.conn_max_lifetime", time.Hour)
	v.SetDefault("database.mysql.auto_migrate", true)
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "url-ingestion")
	v.SetDefault("kafka.group_id", "webrag-worker")

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.task_timeout", 5*time.Minute)
	v.SetDefault("worker.max_attempts", 3)

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", time.Minute)
	v.SetDefault("reaper.grace", time.Minute)
	v.SetDefault("reaper.batch_size", 100)

	v.SetDefault("fetcher.timeout", 10*time.Second)
	v.SetDefault("fetcher.user_agent", "WebRAG/1.0")
	v.SetDefault("fetcher.max_body_bytes", 10<<20)

	v.SetDefault("chunker.chunk_size", 800)
	v.SetDefault("chunker.chunk_overlap", 100)

	v.SetDefault("vector_store.driver", "elasticsearch")
	v.SetDefault("vector_store.collection", "web_documents")
	v.SetDefault("vector_store.dimensions", 1536)

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.insecure", false)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "webrag-raw")

	v.SetDefault("embedding.provider", "gemini")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.concurrency", 2)
	v.SetDefault("embedding.requests_per_second", 0)
	v.SetDefault("embedding.burst", 1)
	v.SetDefault("embedding.document_prefix", "")
	v.SetDefault("embedding.query_prefix", "")
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.generation.temperature", 0.0)
	v.SetDefault("llm.generation.top_p", 1.0)
	v.SetDefault("llm.generation.top_k", 1)
	v.SetDefault("llm.generation.max_tokens", 500)

	v.SetDefault("query.default_top_k", 5)
	v.SetDefault("query.max_top_k", 50)
	v.SetDefault("query.source_preview_chars", 300)

	v.SetDefault("seed.urls_file", "")
}

// Load 读取配置文件（可为空，仅使用默认值与环境变量），返回校验后的配置。
// 环境变量前缀为 WEBRAG_，层级用下划线分隔，例如 WEBRAG_DATABASE_MYSQL_DSN。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("加载 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WEBRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Init 加载配置到全局 Conf，失败直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Validate 检查配置中互相约束的字段。
func (c Config) Validate() error {
	var errs []error
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunker.chunk_size must be positive"))
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errs = append(errs, errors.New("chunker.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.VectorStore.Dimensions <= 0 {
		errs = append(errs, errors.New("vector_store.dimensions must be positive"))
	}
	if c.Embedding.Dimensions != c.VectorStore.Dimensions {
		errs = append(errs, fmt.Errorf("embedding.dimensions (%d) must equal vector_store.dimensions (%d)",
			c.Embedding.Dimensions, c.VectorStore.Dimensions))
	}
	switch c.VectorStore.Driver {
	case "elasticsearch", "pgvector", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown vector_store.driver %q", c.VectorStore.Driver))
	}
	switch c.Embedding.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.Query.DefaultTopK < 1 || c.Query.DefaultTopK > c.Query.MaxTopK {
		errs = append(errs, errors.New("query.default_top_k must be in [1, max_top_k]"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be at least 1"))
	}
	if c.Worker.TaskTimeout <= 0 {
		errs = append(errs, errors.New("worker.task_timeout must be positive"))
	}
	return errors.Join(errs...)
}
