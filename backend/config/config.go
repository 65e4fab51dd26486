package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
		// 直连调试时打开 CORS；经网关访问时关闭
		EnableCORS bool `mapstructure:"enable_cors"`
	} `mapstructure:"running"`
	Redis struct {
		// 一个地址为单机，多个地址为集群
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
		DB       int      `mapstructure:"db"`
	} `mapstructure:"redis"`
	Mysql struct {
		// 为空时服务端使用内存仓库
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		// 为空时不发送提交事件
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queue_size"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"max_retry"`
		BaseBackoff time.Duration `mapstructure:"base_backoff"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
		// 同时进行中的 SendMessage 上限
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"kafka"`
	Sync struct {
		Debounce     time.Duration `mapstructure:"debounce"`
		PageCapacity int           `mapstructure:"page_capacity"`
		// 组装时并发回源的页面数
		FetchLimit int `mapstructure:"fetch_limit"`
	} `mapstructure:"sync"`
	Remote struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`
	Cache struct {
		// "memory" 或 "redis"；客户端本地缓存和服务端页面读缓存共用
		Backend string        `mapstructure:"backend"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3002)
	v.SetDefault("running.enable_cors", false)

	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mysql.dsn", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "marktwo.metadata")
	v.SetDefault("kafka.queue_size", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.max_retry", 3)
	v.SetDefault("kafka.base_backoff", 50*time.Millisecond)
	v.SetDefault("kafka.max_backoff", time.Second)
	v.SetDefault("kafka.concurrency", 8)

	v.SetDefault("sync.debounce", 5*time.Second)
	v.SetDefault("sync.page_capacity", 100)
	v.SetDefault("sync.fetch_limit", 8)

	v.SetDefault("remote.base_url", "http://localhost:3002")
	v.SetDefault("remote.timeout", 10*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Duration(0))
}

// Load 读取配置：file 为空时在 ./backend/config、./config、. 中查找 marktwo.yaml，
// 找不到文件就只用默认值。环境变量 MARKTWO_<SECTION>_<KEY> 覆盖文件中的值。
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("marktwo")
		v.SetConfigType("yaml")
		// 兼容从项目根目录或 backend 目录启动
		v.AddConfigPath("./backend/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.SetEnvPrefix("MARKTWO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
