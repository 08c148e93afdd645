package handlers

import (
	"CSProject/service/chat"
	"CSProject/service/ratelimit"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
)

const maxPresenceWatch = 200

// PresenceSubHandler 订阅一组用户的在线状态；应答里直接带当前快照，
// 后续变更走 presence:event 推送。
type PresenceSubHandler struct{}

func NewPresenceSubHandler() chat.Handler          { return &PresenceSubHandler{} }
func (h *PresenceSubHandler) Type() chat.FrameType { return chat.FramePresenceSub }

func (h *PresenceSubHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	if !ctx.S.Limiter().Allow(sess.UserID, ratelimit.OpPresence) {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrRateLimit))
		return nil
	}
	p, err := decode.DecodeMap[chat.PresencePayload](f.Data)
	if err != nil || len(p.UserIDs) == 0 || len(p.UserIDs) > maxPresenceWatch {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	snaps := ctx.S.Presence().Subscribe(sess.ConnID, p.UserIDs)
	sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"snapshots": snaps}))
	return nil
}

type PresenceUnsubHandler struct{}

func NewPresenceUnsubHandler() chat.Handler          { return &PresenceUnsubHandler{} }
func (h *PresenceUnsubHandler) Type() chat.FrameType { return chat.FramePresenceUnsub }

func (h *PresenceUnsubHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	p, err := decode.DecodeMap[chat.PresencePayload](f.Data)
	if err != nil || len(p.UserIDs) == 0 {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	ctx.S.Presence().Unsubscribe(sess.ConnID, p.UserIDs)
	if f.Seq > 0 {
		sess.Enqueue(chat.BuildOK(f.Seq, nil))
	}
	return nil
}
