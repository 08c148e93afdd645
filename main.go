package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"CSProject/global"
	"CSProject/logger"
	"CSProject/module/chat/message"
	"CSProject/service/chat"
	"CSProject/service/chat/handlers"
	"CSProject/service/natsx"
	"CSProject/service/presence"
	"CSProject/service/ratelimit"
	"CSProject/service/rooms"
	"CSProject/service/storage"
	mongox "CSProject/service/storage/mongox"
	redisx "CSProject/service/storage/redis"
	"CSProject/service/typing"
	"CSProject/tools/ids"
	"CSProject/tools/safe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"
)

func main() {
	// 1) 配置 + ids
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath != "" {
		if err := global.Load(cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	} else {
		global.Conf = global.Default()
	}
	conf := global.Conf
	lvl, err := zapcore.ParseLevel(conf.Server.LogLevel)
	if err != nil {
		log.Fatalf("bad log_level %q: %v", conf.Server.LogLevel, err)
	}
	logger.SetLevel(lvl)
	ids.SetNodeID(conf.Server.NodeID)

	ctx := context.Background()

	// 2) 存储
	if err := redisx.InitRedis(redisx.Config{
		Addr: conf.Redis.Addr, Password: conf.Redis.Password, DB: conf.Redis.DB,
	}); err != nil {
		log.Fatalf("init redis: %v", err)
	}
	if err := mongox.Init(ctx, mongox.Config{Uri: conf.Mongo.Uri, Database: conf.Mongo.Database}); err != nil {
		log.Fatalf("init mongo: %v", err)
	}
	store := message.NewStore(mongox.GetDB())

	// 3) NATS（可选；单机关掉也能跑，只是没有跨网关转发/推送）
	var nc *natsx.Client
	if conf.Nats.Enabled {
		var err error
		nc, err = natsx.NewClient(natsx.Config{Url: conf.Nats.Url, GatewayID: conf.Server.GatewayID})
		if err != nil {
			log.Fatalf("init nats: %v", err)
		}
		defer nc.Close()
	}

	// 4) 子系统装配
	limiter := ratelimit.NewLimiter(ratelimit.Budgets{
		Window:   conf.Limit.Window,
		Connect:  conf.Limit.Connect,
		Send:     conf.Limit.Send,
		Typing:   conf.Limit.Typing,
		Presence: conf.Limit.Presence,
		Receipt:  conf.Limit.Receipt,
	})
	stopCh := make(chan struct{})
	defer close(stopCh)
	safe.Go(func() { limiter.RunCleanup(time.Minute, stopCh) })

	presStore := storage.NewRedisPresenceStore(2 * time.Hour)
	pres := presence.NewManager(presence.Config{
		BroadcastDebounce: conf.Presence.BroadcastDebounce,
		LastSeenDebounce:  conf.Presence.LastSeenDebounce,
	}, presStore)
	defer pres.Close()

	fan := rooms.NewFanout(8, 4096)
	var relay rooms.Relay
	if nc != nil {
		relay = nc
	}
	roomCoord := rooms.NewCoordinator(fan, relay)

	connMgr := chat.NewConnManager(chat.ManagerConf{
		HeartbeatTTL: conf.Chat.HeartbeatTTL,
		MaxPerUser:   conf.Chat.MaxPerUser,
	}, conf.Server.GatewayID)
	defer connMgr.Close()

	// typing 的广播闭包：编帧后投到会话房间（不排除任何连接，
	// 发起者的其它设备也要看到自己在别处输入）
	typCoord := typing.NewCoordinator(typing.Config{TTL: conf.Chat.TypingTTL}, func(ev typing.Event) {
		roomCoord.Broadcast(ev.ConversationID, chat.BuildEvent(chat.FrameTypingEvent, ev), "")
	})
	defer typCoord.Close()

	var push chat.PushSender
	if nc != nil {
		push = nc
	}

	srv := chat.NewServer(chat.ServerConf{
		GatewayID:       conf.Server.GatewayID,
		JwtSecret:       global.JwtSecret(),
		ReceiptBatchMax: conf.Chat.ReceiptBatchMax,
		ReceiptFlush:    conf.Chat.ReceiptFlush,
		PresenceChannel: conf.Presence.Channel,
	}, chat.ServerDeps{
		ConnMgr:  connMgr,
		Limiter:  limiter,
		Presence: pres,
		Rooms:    roomCoord,
		Typing:   typCoord,
		Store:    store,
		Push:     push,
		LastSeen: func(userID string, ts time.Time, st presence.Status) {
			presStore.SetLastSeen(userID, ts)
		},
	})
	handlers.RegisterAll(srv)

	// 5) NATS 回灌：别的网关广播的房间帧，本地只投递不再转发
	if nc != nil {
		if err := nc.SubscribeRooms(func(roomID string, payload []byte) {
			roomCoord.BroadcastLocal(roomID, payload, "")
		}); err != nil {
			log.Fatalf("subscribe rooms: %v", err)
		}
	}

	// 6) HTTP + WebSocket
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": conf.Server.GatewayID})
	})

	logger.Infof("[HTTP] listening on %s gateway=%s", conf.Server.Addr, conf.Server.GatewayID)
	if err := r.Run(conf.Server.Addr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
