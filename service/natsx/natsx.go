package natsx

import (
	"encoding/json"
	"sync"
	"time"

	"CSProject/logger"

	"github.com/nats-io/nats.go"
)

// ===== 配置 =====

type Config struct {
	Url           string
	Name          string
	ReconnectWait time.Duration
	GatewayID     string // 自己的节点ID，消费回灌时过滤自己发的帧
}

func (c *Config) norm() {
	if c.Url == "" {
		c.Url = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "convsync-gateway"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

// Client 跨网关转发 + 推送通知的薄封装。
// subjects:
//
//	rooms.<roomID>  房间帧转发（core，at-most-once，丢了也有 delta sync 兜底）
//	push.notify     离线推送任务
type Client struct {
	cfg Config

	mu sync.RWMutex
	nc *nats.Conn
}

type roomEnvelope struct {
	Gateway string `json:"gw"`
	RoomID  string `json:"room_id"`
	Payload []byte `json:"payload"`
}

// PushTask 离线推送任务；推送服务消费。
type PushTask struct {
	UserIDs  []string `json:"user_ids"`
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body"`
	ConvID   string   `json:"conv_id"`
	SenderID string   `json:"sender_id"`
}

func NewClient(cfg Config) (*Client, error) {
	cfg.norm()
	nc, err := nats.Connect(cfg.Url,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, nc: nc}, nil
}

// PublishRoom 实现 rooms.Relay。
func (c *Client) PublishRoom(roomID string, payload []byte) error {
	env := roomEnvelope{Gateway: c.cfg.GatewayID, RoomID: roomID, Payload: payload}
	b, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	return c.nc.Publish("rooms."+roomID, b)
}

// SubscribeRooms 订阅所有房间帧；收到其它节点的帧时回灌本地房间。
// handler 里必须走 BroadcastLocal，避免转发回环。
func (c *Client) SubscribeRooms(handler func(roomID string, payload []byte)) error {
	_, err := c.nc.Subscribe("rooms.>", func(m *nats.Msg) {
		var env roomEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[natsx] bad room envelope: %v", err)
			return
		}
		if env.Gateway == c.cfg.GatewayID {
			return // 自己发的
		}
		handler(env.RoomID, env.Payload)
	})
	return err
}

// PublishPush 离线推送（best-effort，发送路径绝不等它）。
func (c *Client) PublishPush(task PushTask) error {
	b, err := json.Marshal(&task)
	if err != nil {
		return err
	}
	return c.nc.Publish("push.notify", b)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		c.nc.Drain()
		c.nc = nil
	}
}
