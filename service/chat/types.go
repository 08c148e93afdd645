package chat

import (
	"context"

	chatmodel "CSProject/module/chat/model"
	"CSProject/service/natsx"
)

// Handler 每种帧类型一个处理器；由 handlers 包实现并注册。
type Handler interface {
	Type() FrameType
	Handle(ctx *Context, f *Frame, sess *Session) error
}

// Context 处理器上下文。
type Context struct {
	S *Server
}

// MessageStore 核心消费的持久化协作方契约（mongo 实现在 module/chat/message）。
type MessageStore interface {
	PersistMessage(ctx context.Context, convID, senderID, content, contentType, replyToID string) (*chatmodel.MessageModel, error)
	SoftDeleteMessage(ctx context.Context, msgID, actorID string) (*chatmodel.MessageModel, error)
	ApplyReceipt(ctx context.Context, msgID, userID, status string) error
	ApplyReceiptBatch(ctx context.Context, userID, status string, msgIDs []string) error

	GetConversation(ctx context.Context, convID string) (*chatmodel.Conversation, error)
	ListParticipantConversationIDs(ctx context.Context, userID string) ([]string, error)
	IsActiveParticipant(ctx context.Context, userID, convID string) (bool, error)
	MessagesSince(ctx context.Context, userID, convID string, sinceMs, limit int64) ([]chatmodel.MessageModel, error)

	UpdateConversationSummary(ctx context.Context, convID string, last *chatmodel.MessageModel) error
	InvalidateSummaryCache(ctx context.Context, userIDs []string)
}

// PushSender 离线推送协作方（best-effort，发送路径不等它）。
type PushSender interface {
	PublishPush(task natsx.PushTask) error
}
