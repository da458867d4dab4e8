// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	OpenAI        OpenAIConfig        `mapstructure:"openai"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Credits       CreditsConfig       `mapstructure:"credits"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Security      SecurityConfig      `mapstructure:"security"`
	Mail          MailConfig          `mapstructure:"mail"`
	Plans         PlansConfig         `mapstructure:"plans"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// MaintenanceToken 保护 /plans/check-expired 这类由定时任务调用的接口。
	MaintenanceToken string `mapstructure:"maintenance_token"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// Enabled 为 false 时后台任务走进程内队列。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
	Workers int    `mapstructure:"workers"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// OpenAIConfig 存储外部 AI 服务的连接参数与新建助手的默认值。
// 密钥不在这里：每个用户使用自己保存的 key。
type OpenAIConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	DefaultModel        string        `mapstructure:"default_model"`
	DefaultInstructions string        `mapstructure:"default_instructions"`
	DefaultTemperature  float64       `mapstructure:"default_temperature"`
}

// CrawlerConfig 存储爬虫服务的配置。
type CrawlerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CreditsConfig 按模型配置每条消息消耗的额度。
type CreditsConfig struct {
	ModelCosts  map[string]int `mapstructure:"model_costs"`
	DefaultCost int            `mapstructure:"default_cost"`
}

// CostFor 返回某个模型每条消息的额度消耗，未配置的模型使用 DefaultCost。
func (c CreditsConfig) CostFor(model string) int {
	if cost, ok := c.ModelCosts[strings.ToLower(model)]; ok && cost > 0 {
		return cost
	}
	if c.DefaultCost > 0 {
		return c.DefaultCost
	}
	return 1
}

// Supports 判断模型是否在额度表中。
func (c CreditsConfig) Supports(model string) bool {
	_, ok := c.ModelCosts[strings.ToLower(model)]
	return ok
}

// ConversationConfig 存储对话轮询相关的配置。
type ConversationConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollDuration time.Duration `mapstructure:"max_poll_duration"`
	ThreadLockTTL   time.Duration `mapstructure:"thread_lock_ttl"`
}

// IngestionConfig 存储训练流程相关的配置。
type IngestionConfig struct {
	FreeLinkLimit     int    `mapstructure:"free_link_limit"`
	TextMarker        string `mapstructure:"text_marker"`
	UploadConcurrency int    `mapstructure:"upload_concurrency"`
}

// SecurityConfig 存储加密用户 API key 的密钥（32 字节，hex 或原文）。
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// MailConfig 存储 SMTP 发信配置。
type MailConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	From      string `mapstructure:"from"`
	ClientURL string `mapstructure:"client_url"`
}

// PlansConfig 存储免费套餐的续期窗口。
type PlansConfig struct {
	FreeWindow time.Duration `mapstructure:"free_window"`
}

// Default 返回内置默认配置，测试与 viper 默认值都基于它。
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", Mode: "debug"},
		JWT:    JWTConfig{AccessTokenExpireHours: 24},
		Log:    LogConfig{Level: "info", Format: "console"},
		Kafka:  KafkaConfig{Topic: "chatfabrica-tasks", GroupID: "chatfabrica-go-consumer", Workers: 4},
		Elasticsearch: ElasticsearchConfig{
			IndexName: "chat_exchanges",
		},
		OpenAI: OpenAIConfig{
			BaseURL:             "https://api.openai.com/v1",
			RequestTimeout:      60 * time.Second,
			DefaultModel:        "gpt-4o-mini",
			DefaultInstructions: "You are a helpful assistant. Answer questions using the attached knowledge files.",
			DefaultTemperature:  0.2,
		},
		Crawler: CrawlerConfig{BaseURL: "http://localhost:3001", Timeout: 5 * time.Minute},
		Credits: CreditsConfig{
			ModelCosts:  map[string]int{"gpt-4o-mini": 1, "gpt-4o": 10},
			DefaultCost: 1,
		},
		Conversation: ConversationConfig{
			PollInterval:    time.Second,
			MaxPollDuration: 2 * time.Minute,
			ThreadLockTTL:   3 * time.Minute,
		},
		Ingestion: IngestionConfig{
			FreeLinkLimit:     10,
			TextMarker:        " Answer in the language asked.",
			UploadConcurrency: 4,
		},
		Mail:  MailConfig{Port: 587},
		Plans: PlansConfig{FreeWindow: 30 * 24 * time.Hour},
	}
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量 CHATFABRICA_<SECTION>_<KEY> 会覆盖文件中的值。
func Init(configPath string) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("chatfabrica")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("jwt.access_token_expire_hours", d.JWT.AccessTokenExpireHours)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.workers", d.Kafka.Workers)
	v.SetDefault("elasticsearch.index_name", d.Elasticsearch.IndexName)
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.request_timeout", d.OpenAI.RequestTimeout)
	v.SetDefault("openai.default_model", d.OpenAI.DefaultModel)
	v.SetDefault("openai.default_instructions", d.OpenAI.DefaultInstructions)
	v.SetDefault("openai.default_temperature", d.OpenAI.DefaultTemperature)
	v.SetDefault("crawler.base_url", d.Crawler.BaseURL)
	v.SetDefault("crawler.timeout", d.Crawler.Timeout)
	v.SetDefault("credits.model_costs", d.Credits.ModelCosts)
	v.SetDefault("credits.default_cost", d.Credits.DefaultCost)
	v.SetDefault("conversation.poll_interval", d.Conversation.PollInterval)
	v.SetDefault("conversation.max_poll_duration", d.Conversation.MaxPollDuration)
	v.SetDefault("conversation.thread_lock_ttl", d.Conversation.ThreadLockTTL)
	v.SetDefault("ingestion.free_link_limit", d.Ingestion.FreeLinkLimit)
	v.SetDefault("ingestion.text_marker", d.Ingestion.TextMarker)
	v.SetDefault("ingestion.upload_concurrency", d.Ingestion.UploadConcurrency)
	v.SetDefault("mail.port", d.Mail.Port)
	v.SetDefault("plans.free_window", d.Plans.FreeWindow)
}
