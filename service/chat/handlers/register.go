package handlers

import (
	"CSProject/service/chat"
)

// RegisterAll 把全部帧处理器挂到 dispatcher 上。启动时调用一次。
func RegisterAll(s *chat.Server) {
	for _, h := range []chat.Handler{
		NewAuthHandler(),
		NewPingHandler(),
		NewSendHandler(),
		NewDeleteHandler(),
		NewDeliveredHandler(),
		NewReadHandler(),
		NewDeliveredBatchHandler(),
		NewReadBatchHandler(),
		NewTypingStartHandler(),
		NewTypingStopHandler(),
		NewPresenceSubHandler(),
		NewPresenceUnsubHandler(),
		NewRoomJoinHandler(),
		NewRoomLeaveHandler(),
		NewSyncHandler(),
	} {
		s.Disp().Register(h)
	}
}
