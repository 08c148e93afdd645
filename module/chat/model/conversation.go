package model

// Participant 会话成员。被移出会话时 Active=false（记录保留，不可再发言）。
type Participant struct {
	UserID   string `bson:"user_id" json:"user_id"`
	Name     string `bson:"name" json:"name"` // 昵称快照
	FaceURL  string `bson:"face_url,omitempty" json:"face_url,omitempty"`
	Active   bool   `bson:"active" json:"active"`
	JoinedMs int64  `bson:"joined_ms" json:"joined_ms"`
}

// Conversation 会话与其成员、摘要。
type Conversation struct {
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	Type           string        `bson:"type" json:"type"` // single/group
	Title          string        `bson:"title,omitempty" json:"title,omitempty"`
	Participants   []Participant `bson:"participants" json:"participants"`

	// 摘要冗余，列表页免连表
	LastMsgID      string `bson:"last_msg_id,omitempty" json:"last_msg_id,omitempty"`
	LastMsgPreview string `bson:"last_msg_preview,omitempty" json:"last_msg_preview,omitempty"`
	LastMsgAtMs    int64  `bson:"last_msg_at_ms,omitempty" json:"last_msg_at_ms,omitempty"`

	CreatedAtMs int64 `bson:"created_at_ms" json:"created_at_ms"`
	UpdatedAtMs int64 `bson:"updated_at_ms" json:"updated_at_ms"`
}

// ActiveParticipant 返回指定成员（仅 Active）；nil 表示不是活跃成员。
func (c *Conversation) ActiveParticipant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID && c.Participants[i].Active {
			return &c.Participants[i]
		}
	}
	return nil
}

// ParticipantIDs 全部活跃成员ID。
func (c *Conversation) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for i := range c.Participants {
		if c.Participants[i].Active {
			out = append(out, c.Participants[i].UserID)
		}
	}
	return out
}
