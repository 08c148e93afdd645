package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"CSProject/logger"
	chatmodel "CSProject/module/chat/model"
	"CSProject/service/presence"
	"CSProject/service/receipt"
	"CSProject/service/ratelimit"
	"CSProject/service/rooms"
	"CSProject/service/storage"
	"CSProject/service/typing"
	"CSProject/tools/errs"
	"CSProject/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// ===== 配置 =====

type ServerConf struct {
	GatewayID       string
	JwtSecret       []byte
	ReceiptBatchMax int           // 单个 batch 事件最大条数（超限整体拒绝）
	ReceiptFlush    time.Duration // 回执批量冲刷间隔
	SyncLimit       int64         // delta sync 单次最大返回条数
	PresenceChannel string        // 全局粗粒度事件频道
	MaxAuthFails    int           // 握手连续失败几次断开
}

func (c *ServerConf) norm() {
	if c.ReceiptBatchMax <= 0 {
		c.ReceiptBatchMax = 100
	}
	if c.ReceiptFlush <= 0 {
		c.ReceiptFlush = 2 * time.Second
	}
	if c.SyncLimit <= 0 {
		c.SyncLimit = 200
	}
	if c.MaxAuthFails <= 0 {
		c.MaxAuthFails = 3
	}
}

// Server 网关装配：dispatcher + 各子系统。子系统各管各的锁，互不阻塞。
type Server struct {
	conf ServerConf

	disp     *Dispatcher
	connMgr  *ConnManager
	limiter  *ratelimit.Limiter
	presence *presence.Manager
	rooms    *rooms.Coordinator
	typing   *typing.Coordinator
	store    MessageStore
	push     PushSender // 可为 nil（单机无推送）
}

type ServerDeps struct {
	ConnMgr  *ConnManager
	Limiter  *ratelimit.Limiter
	Presence *presence.Manager
	Rooms    *rooms.Coordinator
	Typing   *typing.Coordinator
	Store    MessageStore
	Push     PushSender
	LastSeen presence.PersistFunc // last-seen 落库（debounce 后触发）；nil = no-op
}

func NewServer(conf ServerConf, deps ServerDeps) *Server {
	conf.norm()
	s := &Server{
		conf:     conf,
		disp:     NewDispatcher(),
		connMgr:  deps.ConnMgr,
		limiter:  deps.Limiter,
		presence: deps.Presence,
		rooms:    deps.Rooms,
		typing:   deps.Typing,
		store:    deps.Store,
		push:     deps.Push,
	}

	// presence 分发：编帧后按 connID 入队；全局事件走 redis 频道
	s.presence.Wire(
		func(connIDs []string, snap presence.Snapshot) {
			payload := BuildEvent(FramePresenceEvent, snap)
			for _, id := range connIDs {
				if sess, ok := s.connMgr.Get(id); ok {
					sess.Enqueue(payload)
				}
			}
		},
		func(userID string, ts time.Time, st presence.Status) {
			if deps.LastSeen != nil {
				deps.LastSeen(userID, ts, st)
			}
		},
		func(snap presence.Snapshot) {
			storage.PublishPresenceEvent(s.conf.PresenceChannel, presence.GlobalEventPayload(snap))
		},
	)

	return s
}

// ===== 访问器（handlers 包用） =====

func (s *Server) Conf() ServerConf              { return s.conf }
func (s *Server) Disp() *Dispatcher             { return s.disp }
func (s *Server) ConnMgr() *ConnManager         { return s.connMgr }
func (s *Server) Limiter() *ratelimit.Limiter   { return s.limiter }
func (s *Server) Presence() *presence.Manager   { return s.presence }
func (s *Server) Rooms() *rooms.Coordinator     { return s.rooms }
func (s *Server) Typing() *typing.Coordinator   { return s.typing }
func (s *Server) Store() MessageStore           { return s.store }
func (s *Server) Push() PushSender              { return s.push }

// ===== 认证后装配 =====

// ActivateSession 握手通过后的统一装配路径。
// 新连接与断线重连走同一条路：绑定索引、注册在线、auto-join、建回执批器。
func (s *Server) ActivateSession(ctx context.Context, sess *Session, userID, name string) error {
	sess.markAuthenticated(userID, name)

	evicted, err := s.connMgr.Bind(sess)
	if err != nil {
		return err
	}
	if evicted != nil {
		logger.Infof("[WS] evict oldest conn user=%s conn=%s", userID, evicted.ConnID)
		s.teardown(evicted)
	}

	if was := s.presence.HandleConnect(userID, sess.ConnID); was {
		logger.Infof("[WS] user came online user=%s", userID)
	}

	// auto-join：空列表正常；查库失败只降级（连接还能收发显式 join 的房间）
	convIDs, err := s.store.ListParticipantConversationIDs(ctx, userID)
	if err != nil {
		logger.Warnf("[WS] auto-join list failed user=%s err=%v", userID, err)
	}
	s.rooms.AutoJoin(sess, convIDs)

	sess.Batcher = receipt.NewBatcher(userID,
		receipt.Config{FlushEvery: s.conf.ReceiptFlush, MaxPending: s.conf.ReceiptBatchMax},
		s.receiptFlushFunc(sess),
	)

	sess.activate()
	return nil
}

// receiptFlushFunc 批量回执落库 + 按会话聚合后通知房间（排除回执发起者自己的连接）。
func (s *Server) receiptFlushFunc(sess *Session) receipt.FlushFunc {
	return func(userID string, acks []receipt.Ack) {
		type group struct {
			conv   string
			status string
			ids    []string
		}
		groups := map[string]*group{}
		for _, a := range acks {
			st := chatmodel.ReceiptDelivered
			if a.Kind == receipt.KindRead {
				st = chatmodel.ReceiptRead
			}
			k := a.ConversationID + "|" + st
			g := groups[k]
			if g == nil {
				g = &group{conv: a.ConversationID, status: st}
				groups[k] = g
			}
			g.ids = append(g.ids, a.MessageID)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, g := range groups {
			if err := s.store.ApplyReceiptBatch(ctx, userID, g.status, g.ids); err != nil {
				logger.Warnf("[receipt] flush failed user=%s conv=%s err=%v", userID, g.conv, err)
				continue
			}
			payload := BuildEvent(FrameReceiptUpdate, map[string]any{
				"conversation_id": g.conv,
				"user_id":         userID,
				"msg_ids":         g.ids,
				"status":          g.status,
			})
			s.rooms.Broadcast(g.conv, payload, sess.ConnID)
		}
	}
}

// ===== WebSocket 入口 =====

func (s *Server) HandleWS(c *gin.Context) {
	// 连接级限流：刷连接不影响其它操作类
	ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	if !s.limiter.Allow(ip, ratelimit.OpConnect) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	sess := newSession(ids.GenerateString(), ws, s)
	if err := s.connMgr.Add(sess); err != nil {
		logger.Infof("[HandleWS] register conn error: %v", err)
		_ = ws.Close()
		return
	}

	ws.SetPongHandler(func(string) error {
		_ = s.connMgr.Heartbeat(sess.ConnID) // 忽略错误：连接可能刚好被清理
		return nil
	})

	go sess.writePump()
	sess.Enqueue(BuildConnAck(sess.ConnID, s.conf.GatewayID))

	s.readLoop(sess)
	s.teardown(sess)
}

// readLoop 只读不写；出错即退出（写协程收尾）。
// 单条坏帧绝不杀连接，只有握手连续失败才断。
func (s *Server) readLoop(sess *Session) {
	authFails := 0
	for {
		mt, data, rerr := sess.ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", sess.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", sess.ConnID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", sess.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseFrame err conn=%s err=%v sample=%q", sess.ConnID, perr, sample)
			continue
		}

		// 未认证阶段只放行 auth/ping
		if sess.State() == StateConnecting && f.Type != FrameAuth && f.Type != FramePing {
			sess.Enqueue(BuildErr(f.Seq, errs.ErrAuthentication))
			continue
		}

		h := s.disp.GetHandler(f.Type)
		if h == nil {
			continue
		}
		if err := h.Handle(&Context{S: s}, f, sess); err != nil {
			logger.Infof("[WS] handler err type=%s conn=%s err=%v", f.Type, sess.ConnID, err)
			if f.Type == FrameAuth {
				authFails++
				if authFails >= s.conf.MaxAuthFails {
					logger.Warnf("[WS] too many auth failures, closing conn=%s", sess.ConnID)
					return
				}
			}
			continue
		}
	}
}

// teardown 断连清理，恰好一次、幂等：
// typing 全停 -> 回执余量冲刷 -> 退所有房间 -> 订阅清理 -> presence 注销 -> 索引摘除。
func (s *Server) teardown(sess *Session) {
	sess.cleanupOnce.Do(func() {
		if sess.UserID != "" {
			s.typing.StopAll(sess.UserID)
			if sess.Batcher != nil {
				sess.Batcher.Close()
			}
		}
		s.rooms.LeaveAll(sess.ConnID)
		s.presence.PurgeSubscriber(sess.ConnID)
		if sess.UserID != "" {
			if went := s.presence.HandleDisconnect(sess.UserID, sess.ConnID); went {
				logger.Infof("[WS] user went offline user=%s", sess.UserID)
			}
		}
		s.connMgr.Remove(sess.ConnID)
		sess.close()
	})
}
