package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvInfo 集合服務資訊 from .env
type EnvInfo struct {
	// service name
	IngestService   string
	TranscodeWorker string

	// service yaml path
	IngestServiceYAMLPath   string
	TranscodeWorkerYAMLPath string

	// service log path
	IngestServiceLogPath   string
	TranscodeWorkerLogPath string
}

// EnvConfig 集合服務設定
var (
	EnvConfig = initEnv()
	envConfig EnvInfo
	once      sync.Once
	env       string

	validate = validator.New()
)

type defaulter interface {
	applyDefaults()
}

func initEnv() EnvInfo {
	once.Do(func() {
		path, err := GetPath(".env", 5)
		if err != nil {
			log.Printf("Warning: Could not get .env path: %v", err)
		} else if err := godotenv.Load(path); err != nil {
			log.Printf("Warning: Could not load .env file: %v", err)
		}

		env = os.Getenv("ENV")

		envConfig = EnvInfo{
			IngestService:   getEnv("INGEST_SERVICE", "ingest_service"),
			TranscodeWorker: getEnv("TRANSCODE_WORKER", "transcode_worker"),

			IngestServiceYAMLPath:   getEnv("INGEST_SERVICE_YAML", "./configs"),
			TranscodeWorkerYAMLPath: getEnv("TRANSCODE_WORKER_YAML", "./configs"),

			IngestServiceLogPath:   getEnv("INGEST_SERVICE_LOG", "./log/ingest_service"),
			TranscodeWorkerLogPath: getEnv("TRANSCODE_WORKER_LOG", "./log/transcode_worker"),
		}
	})

	return envConfig
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// IsProduction check run env
func IsProduction() bool {
	return env == "production"
}

// IsLocal check run env
func IsLocal() bool {
	return env == "local"
}

// ReadConfig 讀取 <serviceName>.yaml，展開 ${ENV} 後解構並驗證
func ReadConfig[T any](serviceName string, configPath string) (T, error) {
	var cfg T

	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("service[%s] loading config file : %w", serviceName, err)
	}

	rawConfig, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return cfg, fmt.Errorf("service[%s] reading raw config file : %w", serviceName, err)
	}

	// 替換 ${} 占位符為環境變數的值
	expandedConfig := os.ExpandEnv(string(rawConfig))
	if err := v.ReadConfig(bytes.NewBufferString(expandedConfig)); err != nil {
		return cfg, fmt.Errorf("service[%s] reading expanded config : %w", serviceName, err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("service[%s] unmarshaling config : %w", serviceName, err)
	}

	if d, ok := any(&cfg).(defaulter); ok {
		d.applyDefaults()
	}

	if err := validate.Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return cfg, fmt.Errorf("service[%s] invalid config : %w", serviceName, err)
		}
	}

	return cfg, nil
}

// LoadConfig 加載配置，失敗直接結束程式
func LoadConfig[T any](serviceName string, configPath string) T {
	cfg, err := ReadConfig[T](serviceName, configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

// GetRedisSetting get redis sentinel setting from .env
func GetRedisSetting() (string, []string) {
	var sentinelAddrs []string

	// 動態解析 REDIS_SENTINEL*_IP 和端口
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]

		if strings.HasPrefix(key, "REDIS_SENTINEL") && strings.HasSuffix(key, "_IP") {
			portKey := strings.Replace(key, "_IP", "_PORT", 1)
			if port := os.Getenv(portKey); port != "" {
				sentinelAddrs = append(sentinelAddrs, fmt.Sprintf("%s:%s", value, port))
			}
		}
	}

	return getEnv("REDIS_MASTER_NAME", "mymaster"), sentinelAddrs
}

// GetPath use fileName loop maxCount find file path
func GetPath(fileName string, maxCount int) (string, error) {
	path := "./" + fileName

	for i := 0; i < maxCount; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = "../" + path
	}
	return "", errors.New(fileName + " can't find path")
}
