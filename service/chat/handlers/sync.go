package handlers

import (
	"context"
	"time"

	chatmodel "CSProject/module/chat/model"
	"CSProject/service/chat"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
)

// SyncHandler delta sync：返回 since_ms 之后的变更（新消息、软删、回执都体现
// 在记录本身），附带服务端时间戳供客户端推进游标。
// conversation_id 为空时按用户全量会话范围查。
type SyncHandler struct{}

func NewSyncHandler() chat.Handler          { return &SyncHandler{} }
func (h *SyncHandler) Type() chat.FrameType { return chat.FrameSyncRequest }

func (h *SyncHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S

	p, err := decode.DecodeMap[chat.SyncPayload](f.Data)
	if err != nil || p.SinceMs < 0 {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	limit := p.Limit
	if limit <= 0 || limit > s.Conf().SyncLimit {
		limit = s.Conf().SyncLimit
	}

	// 游标取自上一次应答的 server_ts_ms：查询开始前取 now，
	// 查询期间落库的消息下一轮必然覆盖（宁可重复，不可漏）。
	serverTs := time.Now().UnixMilli()

	dbCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	records, err := s.Store().MessagesSince(dbCtx, sess.UserID, p.ConversationID, p.SinceMs, limit)
	if err != nil {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.AsCodeError(err)))
		return nil
	}
	if records == nil {
		records = []chatmodel.MessageModel{}
	}

	sess.Enqueue(chat.BuildOK(f.Seq, chat.SyncResult{Records: records, ServerTsMs: serverTs}))
	return nil
}
