package handlers

import (
	"CSProject/service/chat"
)

type PingHandler struct{}

func NewPingHandler() chat.Handler          { return &PingHandler{} }
func (h *PingHandler) Type() chat.FrameType { return chat.FramePing }

// Handle 应用层心跳：续期 + pong。未认证连接也可以 ping（宽限期内保活）。
func (h *PingHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	_ = ctx.S.ConnMgr().Heartbeat(sess.ConnID)
	sess.Enqueue(chat.BuildEvent(chat.FramePong, nil))
	return nil
}
