package handlers

import (
	"context"

	"CSProject/service/chat"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
)

type DeleteHandler struct{}

func NewDeleteHandler() chat.Handler          { return &DeleteHandler{} }
func (h *DeleteHandler) Type() chat.FrameType { return chat.FrameDelete }

// Handle 软删：仅发送者可删，内容替换为占位符，记录保留。
// 删除成功广播 message:deleted（含发起者其它设备，所以不排除任何连接）。
func (h *DeleteHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S

	p, err := decode.DecodeMap[chat.DeletePayload](f.Data)
	if err != nil || p.MsgID == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	m, err := s.Store().SoftDeleteMessage(dbCtx, p.MsgID, sess.UserID)
	if err != nil {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.AsCodeError(err)))
		return nil
	}

	s.Rooms().Broadcast(m.ConversationID, chat.BuildEvent(chat.FrameMessageDeleted, map[string]any{
		"msg_id":          m.MsgID,
		"conversation_id": m.ConversationID,
	}), "")

	sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"msg_id": m.MsgID}))
	return nil
}
