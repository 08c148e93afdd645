package handlers

import (
	"CSProject/service/chat"
	"CSProject/service/ratelimit"
	"CSProject/service/receipt"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
)

// ===== 单条回执 =====

// ReceiptHandler delivered/read 共用一个实现，kind 区分。
// 单条也走批器：落库与房间通知都在冲刷粒度发生。
type ReceiptHandler struct {
	frame chat.FrameType
	kind  receipt.Kind
}

func NewDeliveredHandler() chat.Handler {
	return &ReceiptHandler{frame: chat.FrameDelivered, kind: receipt.KindDelivered}
}

func NewReadHandler() chat.Handler {
	return &ReceiptHandler{frame: chat.FrameRead, kind: receipt.KindRead}
}

func (h *ReceiptHandler) Type() chat.FrameType { return h.frame }

func (h *ReceiptHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	if !ctx.S.Limiter().Allow(sess.UserID, ratelimit.OpReceipt) {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrRateLimit))
		return nil
	}
	p, err := decode.DecodeMap[chat.ReceiptPayload](f.Data)
	if err != nil || p.MsgID == "" || p.ConversationID == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	if sess.Batcher != nil {
		sess.Batcher.Add(receipt.Ack{MessageID: p.MsgID, ConversationID: p.ConversationID, Kind: h.kind})
	}
	if f.Seq > 0 {
		sess.Enqueue(chat.BuildOK(f.Seq, nil))
	}
	return nil
}

// ===== 批量回执 =====

// ReceiptBatchHandler 客户端已经攒好的批（如进入会话时一把标 read）。
// 超出单批上限整体拒绝，不做截断（截断会让客户端以为都成功了）。
type ReceiptBatchHandler struct {
	frame chat.FrameType
	kind  receipt.Kind
}

func NewDeliveredBatchHandler() chat.Handler {
	return &ReceiptBatchHandler{frame: chat.FrameDeliveredBatch, kind: receipt.KindDelivered}
}

func NewReadBatchHandler() chat.Handler {
	return &ReceiptBatchHandler{frame: chat.FrameReadBatch, kind: receipt.KindRead}
}

func (h *ReceiptBatchHandler) Type() chat.FrameType { return h.frame }

func (h *ReceiptBatchHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	if !ctx.S.Limiter().Allow(sess.UserID, ratelimit.OpReceipt) {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrRateLimit))
		return nil
	}
	p, err := decode.DecodeMap[chat.ReceiptBatchPayload](f.Data)
	if err != nil || p.ConversationID == "" || len(p.MsgIDs) == 0 {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	if len(p.MsgIDs) > ctx.S.Conf().ReceiptBatchMax {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation.WithDetail("batch too large")))
		return nil
	}
	if sess.Batcher != nil {
		for _, id := range p.MsgIDs {
			if id == "" {
				continue
			}
			sess.Batcher.Add(receipt.Ack{MessageID: id, ConversationID: p.ConversationID, Kind: h.kind})
		}
	}
	if f.Seq > 0 {
		sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"accepted": len(p.MsgIDs)}))
	}
	return nil
}
