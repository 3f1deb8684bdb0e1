package config

import "time"

// Ingest definition ingest_service YAML structure
type Ingest struct {
	Port string `mapstructure:"port"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Storage    StorageConfig  `mapstructure:"storage"`
	Broker     BrokerConfig   `mapstructure:"broker"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Outbox     OutboxConfig   `mapstructure:"outbox"`
}

// Worker definition transcode_worker YAML structure
type Worker struct {
	PostgreSQL DatabaseConfig   `mapstructure:"pg"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host" validate:"required"`
	Port          int    `mapstructure:"port" validate:"gt=0"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database" validate:"required"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
}

// StorageConfig object storage setting, driver is minio or s3
type StorageConfig struct {
	Driver        string        `mapstructure:"driver" validate:"oneof=minio s3"`
	BucketName    string        `mapstructure:"bucket_name" validate:"required"`
	PublicURL     string        `mapstructure:"public_url" validate:"omitempty,url"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`

	MinIO MinIOConfig `mapstructure:"minio"`
	S3    S3Config    `mapstructure:"s3"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// S3Config definition aws s3 setting
type S3Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// Endpoint 非空時改打相容 S3 的服務
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// BrokerConfig event channel setting, driver is rabbitmq or kafka
type BrokerConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=rabbitmq kafka"`
	Topic    string         `mapstructure:"topic" validate:"required"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	GroupID       string   `mapstructure:"group_id"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Addr 單節點位址，空值時改用 .env 的 sentinel 設定
	Addr    string        `mapstructure:"addr"`
	RedisDB int           `mapstructure:"redis_db"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// AuthConfig bearer token verification
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required"`
}

// OutboxConfig hand-off relay setting
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// ResolutionConfig one rung of the resolution ladder
type ResolutionConfig struct {
	Width   int    `mapstructure:"width" validate:"gt=0"`
	Height  int    `mapstructure:"height" validate:"gt=0"`
	Bitrate string `mapstructure:"bitrate" validate:"required"`
}

// ConversionConfig media conversion setting
type ConversionConfig struct {
	Resolutions     []ResolutionConfig `mapstructure:"resolutions" validate:"dive"`
	SegmentDuration int                `mapstructure:"segment_duration" validate:"gte=1"`
	AddLetterbox    bool               `mapstructure:"add_letterbox"`
	FFmpegPath      string             `mapstructure:"ffmpeg_path"`
	FFprobePath     string             `mapstructure:"ffprobe_path"`
	ToolTimeout     time.Duration      `mapstructure:"tool_timeout"`
}

// WorkerConfig processing worker setting
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" validate:"gte=1"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	ScratchDir        string        `mapstructure:"scratch_dir"`
	UploadParallelism int           `mapstructure:"upload_parallelism" validate:"gte=1"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	HealthAddr        string        `mapstructure:"health_addr"`
	MetricsAddr       string        `mapstructure:"metrics_addr"`
	// PprofAddr 空值時不啟動 pprof
	PprofAddr string `mapstructure:"pprof_addr"`
}

func (c *Ingest) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	c.Storage.applyDefaults()
	c.Broker.applyDefaults()
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 10 * time.Minute
	}
	if c.Outbox.PollInterval <= 0 {
		c.Outbox.PollInterval = 2 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 50
	}
}

func (c *Worker) applyDefaults() {
	c.Storage.applyDefaults()
	c.Broker.applyDefaults()
	if c.Conversion.SegmentDuration == 0 {
		c.Conversion.SegmentDuration = 10
	}
	if c.Conversion.FFmpegPath == "" {
		c.Conversion.FFmpegPath = "ffmpeg"
	}
	if c.Conversion.FFprobePath == "" {
		c.Conversion.FFprobePath = "ffprobe"
	}
	if c.Conversion.ToolTimeout <= 0 {
		c.Conversion.ToolTimeout = 2 * time.Hour
	}
	w := &c.Worker
	if w.Concurrency == 0 {
		w.Concurrency = 1
	}
	if w.MaxAttempts == 0 {
		w.MaxAttempts = 3
	}
	if w.UploadParallelism == 0 {
		w.UploadParallelism = 8
	}
	if w.RetryBackoff <= 0 {
		w.RetryBackoff = 10 * time.Second
	}
	if w.HealthAddr == "" {
		w.HealthAddr = ":50051"
	}
	if w.MetricsAddr == "" {
		w.MetricsAddr = ":9102"
	}
}

func (c *StorageConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = "minio"
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = 12 * time.Hour
	}
}

func (c *BrokerConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = "rabbitmq"
	}
	if c.Topic == "" {
		c.Topic = "video.ready_for_processing"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "transcode_worker"
	}
}
