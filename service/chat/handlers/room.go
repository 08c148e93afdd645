package handlers

import (
	"context"

	"CSProject/service/chat"
	"CSProject/service/typing"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
)

// RoomJoinHandler 显式入房（auto-join 之外新建/被拉进的会话）。
// 成员校验过了才入；应答附带当前输入者，客户端进会话页直接有 typing 态。
type RoomJoinHandler struct{}

func NewRoomJoinHandler() chat.Handler          { return &RoomJoinHandler{} }
func (h *RoomJoinHandler) Type() chat.FrameType { return chat.FrameRoomJoin }

func (h *RoomJoinHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S

	p, err := decode.DecodeMap[chat.RoomPayload](f.Data)
	if err != nil || p.RoomID == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ok, err := s.Store().IsActiveParticipant(dbCtx, sess.UserID, p.RoomID)
	if err != nil {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.AsCodeError(err)))
		return nil
	}
	if !ok {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrAuthorization))
		return nil
	}

	s.Rooms().Join(sess, p.RoomID)

	typists := s.Typing().Typists(p.RoomID)
	if typists == nil {
		typists = []typing.Event{}
	}
	sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"room_id": p.RoomID, "typists": typists}))
	return nil
}

// RoomLeaveHandler 显式退房（幂等）；只摘本连接。
type RoomLeaveHandler struct{}

func NewRoomLeaveHandler() chat.Handler          { return &RoomLeaveHandler{} }
func (h *RoomLeaveHandler) Type() chat.FrameType { return chat.FrameRoomLeave }

func (h *RoomLeaveHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	p, err := decode.DecodeMap[chat.RoomPayload](f.Data)
	if err != nil || p.RoomID == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	ctx.S.Rooms().Leave(sess.ConnID, p.RoomID)
	ctx.S.Typing().Stop(p.RoomID, sess.UserID)
	if f.Seq > 0 {
		sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"room_id": p.RoomID}))
	}
	return nil
}
