package handlers

import (
	"CSProject/service/chat"
	"CSProject/service/ratelimit"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
)

// TypingHandler start/stop 共用；超限静默丢（typing 丢了无感知，自然过期兜底）。
type TypingHandler struct {
	frame chat.FrameType
	start bool
}

func NewTypingStartHandler() chat.Handler {
	return &TypingHandler{frame: chat.FrameTypingStart, start: true}
}

func NewTypingStopHandler() chat.Handler {
	return &TypingHandler{frame: chat.FrameTypingStop}
}

func (h *TypingHandler) Type() chat.FrameType { return h.frame }

func (h *TypingHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	if !ctx.S.Limiter().Allow(sess.UserID, ratelimit.OpTyping) {
		return nil
	}
	p, err := decode.DecodeMap[chat.TypingPayload](f.Data)
	if err != nil || p.ConversationID == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	if h.start {
		ctx.S.Typing().Start(p.ConversationID, sess.UserID, sess.Name)
	} else {
		ctx.S.Typing().Stop(p.ConversationID, sess.UserID)
	}
	return nil
}
