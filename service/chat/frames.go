package chat

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"CSProject/tools"
	"CSProject/tools/errs"
)

// ===== 帧类型 =====

type FrameType string

// 客户端 -> 服务端
const (
	FrameAuth           FrameType = "auth"
	FramePing           FrameType = "ping"
	FrameSend           FrameType = "message:send"
	FrameDelete         FrameType = "message:delete"
	FrameDelivered      FrameType = "message:delivered"
	FrameRead           FrameType = "message:read"
	FrameDeliveredBatch FrameType = "message:delivered:batch"
	FrameReadBatch      FrameType = "message:read:batch"
	FrameTypingStart    FrameType = "typing:start"
	FrameTypingStop     FrameType = "typing:stop"
	FramePresenceSub    FrameType = "presence:subscribe"
	FramePresenceUnsub  FrameType = "presence:unsubscribe"
	FrameRoomJoin       FrameType = "room:join"
	FrameRoomLeave      FrameType = "room:leave"
	FrameSyncRequest    FrameType = "sync:request"
)

// 服务端 -> 客户端
const (
	FrameConnAck        FrameType = "conn:ack"
	FramePong           FrameType = "pong"
	FrameResult         FrameType = "result"
	FrameMessageNew     FrameType = "message:new"
	FrameMessageDeleted FrameType = "message:deleted"
	FrameReceiptUpdate  FrameType = "receipt:update"
	FrameTypingEvent    FrameType = "typing:event"
	FramePresenceEvent  FrameType = "presence:event"
)

// Frame 统一事件帧：type 打标签，data 按类型各自解码。
// seq 由客户端对请求/响应型事件递增携带，result 帧原样带回做关联。
type Frame struct {
	Type FrameType      `json:"type"`
	Seq  int64          `json:"seq,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Result 请求/响应型事件的统一应答。
type Result struct {
	Seq  int64  `json:"seq"`
	Ok   bool   `json:"ok"`
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

// ParseFrame 边界校验：JSON 合法 + type 非空。其余字段由各 handler 解码。
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrValidation.WrapMsg("malformed frame", "err", err)
	}
	if f.Type == "" {
		return nil, errs.ErrValidation.WrapMsg("missing frame type")
	}
	return &f, nil
}

// ===== 各帧负载 =====

type AuthPayload struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"` // 展示名（昵称快照）
}

type SendPayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type,omitempty"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	TempID         string `json:"temp_id,omitempty"` // 客户端乐观ID，确认帧带回
}

type DeletePayload struct {
	MsgID string `json:"msg_id"`
}

type ReceiptPayload struct {
	MsgID          string `json:"msg_id"`
	ConversationID string `json:"conversation_id"`
}

type ReceiptBatchPayload struct {
	ConversationID string   `json:"conversation_id"`
	MsgIDs         []string `json:"msg_ids"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

type PresencePayload struct {
	UserIDs []string `json:"user_ids"`
}

type RoomPayload struct {
	RoomID string `json:"room_id"`
}

type SyncPayload struct {
	ConversationID string `json:"conversation_id,omitempty"` // 空 = 全局范围
	SinceMs        int64  `json:"since_ms"`
	Limit          int64  `json:"limit,omitempty"`
}

// SyncResult delta sync 应答：记录 + 服务端时间戳（客户端以它推进游标）。
type SyncResult struct {
	Records    any   `json:"records"`
	ServerTsMs int64 `json:"server_ts_ms"`
}

// ===== 编帧 =====

func marshalFrame(t FrameType, data any) []byte {
	b, err := json.Marshal(struct {
		Type FrameType `json:"type"`
		Data any       `json:"data,omitempty"`
	}{Type: t, Data: data})
	if err != nil {
		return nil
	}
	return b
}

// BuildEvent 服务端事件帧（fire-and-forget 投递）。
func BuildEvent(t FrameType, data any) []byte {
	return marshalFrame(t, data)
}

// BuildOK 成功应答。
func BuildOK(seq int64, data any) []byte {
	return marshalFrame(FrameResult, Result{Seq: seq, Ok: true, Data: data})
}

// BuildErr 失败应答；code/msg 来自 CodeError。
func BuildErr(seq int64, e *errs.CodeError) []byte {
	return marshalFrame(FrameResult, Result{Seq: seq, Ok: false, Code: e.Code, Msg: e.Msg})
}

// BuildConnAck 握手成功回执。
func BuildConnAck(connID, gatewayID string) []byte {
	return marshalFrame(FrameConnAck, map[string]any{
		"conn_id":    connID,
		"gateway_id": gatewayID,
		"ts":         time.Now().UnixMilli(),
	})
}

// ===== 内容清洗 =====

const maxContentLen = 8192

// SanitizeContent 去首尾空白、剔除控制字符（保留换行/制表）。
// 返回空串表示清洗后无有效内容，调用方按 ValidationError 拒绝。
func SanitizeContent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	// 超长按 rune 边界截，不产出半个多字节字符
	return tools.TruncateUTF8(out, maxContentLen)
}
