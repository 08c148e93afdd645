package model

// ===== 常量 =====

const (
	MsgTableName  = "msg"          // 消息集合
	ConvTableName = "conversation" // 会话集合
)

// 消息内容类型（业务枚举）
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
	ContentTypeFile  = "file"
	ContentTypeAudio = "audio"
)

// 单用户回执状态推进：sent -> delivered -> read，只进不退。
const (
	ReceiptSent      = "sent"
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
)

// ===== 存储结构 =====

// ReceiptEntry 一条消息对某个接收者的回执状态。
type ReceiptEntry struct {
	UserID      string `bson:"user_id" json:"user_id"`
	Status      string `bson:"status" json:"status"` // delivered/read
	UpdatedAtMs int64  `bson:"updated_at_ms" json:"updated_at_ms"`
}

// ReplyRef 回复引用的快照（被回复消息删除后引用仍可展示）。
type ReplyRef struct {
	MsgID    string `bson:"msg_id" json:"msg_id"`
	SenderID string `bson:"sender_id" json:"sender_id"`
	Preview  string `bson:"preview" json:"preview"` // 内容截断快照
}

// MessageModel 消息本体。除软删与回执追加外不可变，永不物理删除。
type MessageModel struct {
	MsgID          string `bson:"msg_id" json:"msg_id"` // 服务端雪花ID
	ConversationID string `bson:"conversation_id" json:"conversation_id"`
	SenderID       string `bson:"sender_id" json:"sender_id"`
	Content        string `bson:"content" json:"content"`
	ContentType    string `bson:"content_type" json:"content_type"`

	ReplyTo *ReplyRef `bson:"reply_to,omitempty" json:"reply_to,omitempty"`

	IsDeleted   bool  `bson:"is_deleted" json:"is_deleted"`
	CreatedAtMs int64 `bson:"created_at_ms" json:"created_at_ms"` // 服务端时钟，delta sync 游标用

	Receipts []ReceiptEntry `bson:"receipts,omitempty" json:"receipts,omitempty"`
}

// DeletedPlaceholder 软删后内容统一替换成它。
const DeletedPlaceholder = "[message deleted]"
