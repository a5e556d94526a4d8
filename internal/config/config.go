package config

import (
	"github.com/blues/chamasvc/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainId       int64  `mapstructure:"chain_id"`       // 链ID
	RpcUrl        string `mapstructure:"rpc_url"`        // RPC节点URL
	PrivateKey    string `mapstructure:"private_key"`    // 私钥
	FactoryAddr   string `mapstructure:"factory_addr"`   // Chama工厂合约地址
	StartBlock    int64  `mapstructure:"start_block"`    // 事件同步起始区块号
	Confirmations int    `mapstructure:"confirmations"`  // 确认区块数
	LogChunkSize  int64  `mapstructure:"log_chunk_size"` // 日志查询区块范围上限
}

// BatchConfig 批处理配置
type BatchConfig struct {
	SizeThreshold int `mapstructure:"size_threshold"` // 触发批量提交的操作数
	MaxAgeSeconds int `mapstructure:"max_age"`        // 批次最大等待时间（秒）
	ScanInterval  int `mapstructure:"scan_interval"`  // 批次扫描间隔（秒）
	MaxRetries    int `mapstructure:"max_retries"`    // 最大重试次数
}

// SyncConfig 链上同步配置
type SyncConfig struct {
	RetryInterval     int `mapstructure:"retry_interval"`     // 回执重试队列处理间隔（秒）
	ReconcileInterval int `mapstructure:"reconcile_interval"` // 对账任务间隔（秒）
	MaxRetries        int `mapstructure:"max_retries"`        // 回执查询最大重试次数
	WorkerPoolSize    int `mapstructure:"worker_pool_size"`   // 对账协程池大小
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/chamasvc")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "chamasvc")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("chain.start_block", 0)
	viper.SetDefault("chain.confirmations", 6)
	viper.SetDefault("chain.log_chunk_size", 1000)
	viper.SetDefault("batch.size_threshold", 5)
	viper.SetDefault("batch.max_age", 300)
	viper.SetDefault("batch.scan_interval", 5)
	viper.SetDefault("batch.max_retries", 3)
	viper.SetDefault("sync.retry_interval", 5)
	viper.SetDefault("sync.reconcile_interval", 60)
	viper.SetDefault("sync.max_retries", 10)
	viper.SetDefault("sync.worker_pool_size", 4)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
