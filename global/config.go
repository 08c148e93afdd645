package global

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ===== 配置 =====

type ServerConfig struct {
	Addr      string `yaml:"addr"`       // HTTP/WS 监听地址
	GatewayID string `yaml:"gateway_id"` // 节点ID（参与连接key命名）
	NodeID    int64  `yaml:"node_id"`    // 雪花节点号
	JwtSecret string `yaml:"jwt_secret"`
	LogLevel  string `yaml:"log_level"` // debug/info/warn/error
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	Uri      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type NatsConfig struct {
	Url     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// LimitConfig 每个操作类独立预算（次数/窗口）
type LimitConfig struct {
	Window   time.Duration `yaml:"window"`
	Connect  int           `yaml:"connect"`
	Send     int           `yaml:"send"`
	Typing   int           `yaml:"typing"`
	Presence int           `yaml:"presence"`
	Receipt  int           `yaml:"receipt"`
}

type PresenceConfig struct {
	BroadcastDebounce time.Duration `yaml:"broadcast_debounce"` // 连接抖动合并窗口
	LastSeenDebounce  time.Duration `yaml:"last_seen_debounce"` // last-seen 落库节流
	Channel           string        `yaml:"channel"`            // 全局在线/离线粗粒度事件频道
}

type ChatConfig struct {
	TypingTTL       time.Duration `yaml:"typing_ttl"`        // typing 自动过期
	ReceiptFlush    time.Duration `yaml:"receipt_flush"`     // 回执批量落库间隔
	ReceiptBatchMax int           `yaml:"receipt_batch_max"` // 单事件最大回执条数
	MaxPerUser      int           `yaml:"max_per_user"`      // 每用户最大连接数
	HeartbeatTTL    time.Duration `yaml:"heartbeat_ttl"`     // 心跳超时判定
}

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Nats     NatsConfig     `yaml:"nats"`
	Limit    LimitConfig    `yaml:"limit"`
	Presence PresenceConfig `yaml:"presence"`
	Chat     ChatConfig     `yaml:"chat"`
}

var Conf AppConfig

// Load 从 yaml 文件加载配置并补默认值。
func Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var c AppConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return err
	}
	c.norm()
	Conf = c
	return nil
}

// Default 无配置文件时的本地默认（测试/单机）。
func Default() AppConfig {
	c := AppConfig{}
	c.norm()
	return c
}

func (c *AppConfig) norm() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8081"
	}
	if c.Server.GatewayID == "" {
		c.Server.GatewayID = "gateway_01"
	}
	if c.Server.NodeID <= 0 {
		c.Server.NodeID = 1
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Mongo.Uri == "" {
		c.Mongo.Uri = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "convsync"
	}
	if c.Limit.Window <= 0 {
		c.Limit.Window = time.Minute
	}
	if c.Limit.Connect <= 0 {
		c.Limit.Connect = 30
	}
	if c.Limit.Send <= 0 {
		c.Limit.Send = 60
	}
	if c.Limit.Typing <= 0 {
		c.Limit.Typing = 120
	}
	if c.Limit.Presence <= 0 {
		c.Limit.Presence = 60
	}
	if c.Limit.Receipt <= 0 {
		c.Limit.Receipt = 240
	}
	if c.Presence.BroadcastDebounce <= 0 {
		c.Presence.BroadcastDebounce = 100 * time.Millisecond
	}
	if c.Presence.LastSeenDebounce <= 0 {
		c.Presence.LastSeenDebounce = 5 * time.Second
	}
	if c.Presence.Channel == "" {
		c.Presence.Channel = "presence:events"
	}
	if c.Chat.TypingTTL <= 0 {
		c.Chat.TypingTTL = 4 * time.Second
	}
	if c.Chat.ReceiptFlush <= 0 {
		c.Chat.ReceiptFlush = 2 * time.Second
	}
	if c.Chat.ReceiptBatchMax <= 0 {
		c.Chat.ReceiptBatchMax = 100
	}
	if c.Chat.HeartbeatTTL <= 0 {
		c.Chat.HeartbeatTTL = 90 * time.Second
	}
}

func JwtSecret() []byte {
	if Conf.Server.JwtSecret != "" {
		return []byte(Conf.Server.JwtSecret)
	}
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}
