package message

import (
	"context"
	"time"

	chatmodel "CSProject/module/chat/model"
	redis2 "CSProject/service/storage/redis"
	"CSProject/tools"
	"CSProject/tools/errs"
	"CSProject/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const replyPreviewMax = 120

type Store struct {
	ConvColl *mongo.Collection // conversation
	MsgColl  *mongo.Collection // msg
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		ConvColl: db.Collection(chatmodel.ConvTableName),
		MsgColl:  db.Collection(chatmodel.MsgTableName),
	}
}

// ===== 写入 =====

// PersistMessage 校验会话与发送者后落一条消息；reply_to 在这里解析成快照。
// 会话不存在/发送者不是活跃成员 -> ErrNotFound / ErrAuthorization。
func (s *Store) PersistMessage(ctx context.Context, convID, senderID, content, contentType, replyToID string) (*chatmodel.MessageModel, error) {
	conv, err := s.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	sender := conv.ActiveParticipant(senderID)
	if sender == nil {
		return nil, errs.ErrAuthorization.WrapMsg("not an active participant", "conv", convID, "user", senderID)
	}

	m := &chatmodel.MessageModel{
		MsgID:          ids.GenerateString(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		ContentType:    contentType,
		CreatedAtMs:    time.Now().UnixMilli(),
	}

	if replyToID != "" {
		ref, err := s.resolveReply(ctx, convID, replyToID)
		if err != nil {
			return nil, err
		}
		m.ReplyTo = ref
	}

	if _, err := s.MsgColl.InsertOne(ctx, m); err != nil {
		return nil, errs.ErrTransient.WrapMsg("insert message", "err", err)
	}
	return m, nil
}

func (s *Store) resolveReply(ctx context.Context, convID, replyToID string) (*chatmodel.ReplyRef, error) {
	var ref chatmodel.MessageModel
	err := s.MsgColl.FindOne(ctx, bson.M{"msg_id": replyToID, "conversation_id": convID}).Decode(&ref)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("reply target not found", "msg_id", replyToID)
	}
	if err != nil {
		return nil, errs.ErrTransient.WrapMsg("find reply target", "err", err)
	}
	preview := ref.Content
	if ref.IsDeleted {
		preview = chatmodel.DeletedPlaceholder
	} else {
		preview = tools.TruncateUTF8(preview, replyPreviewMax)
	}
	return &chatmodel.ReplyRef{MsgID: ref.MsgID, SenderID: ref.SenderID, Preview: preview}, nil
}

// SoftDeleteMessage 软删：内容替换 + is_deleted，只有原发送者可删。永不物理删除。
func (s *Store) SoftDeleteMessage(ctx context.Context, msgID, actorID string) (*chatmodel.MessageModel, error) {
	var m chatmodel.MessageModel
	err := s.MsgColl.FindOne(ctx, bson.M{"msg_id": msgID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "msg_id", msgID)
	}
	if err != nil {
		return nil, errs.ErrTransient.WrapMsg("find message", "err", err)
	}
	if m.SenderID != actorID {
		return nil, errs.ErrAuthorization.WrapMsg("only sender may delete", "msg_id", msgID)
	}

	_, err = s.MsgColl.UpdateOne(ctx,
		bson.M{"msg_id": msgID},
		bson.M{"$set": bson.M{"is_deleted": true, "content": chatmodel.DeletedPlaceholder}},
	)
	if err != nil {
		return nil, errs.ErrTransient.WrapMsg("soft delete", "err", err)
	}
	m.IsDeleted = true
	m.Content = chatmodel.DeletedPlaceholder
	return &m, nil
}

// ===== 回执 =====

// ApplyReceipt 追加/推进单用户回执，幂等：同状态重放无可见变化，read 不会退回 delivered。
func (s *Store) ApplyReceipt(ctx context.Context, msgID, userID, status string) error {
	now := time.Now().UnixMilli()

	// 已有 delivered 条目：仅在升级为 read 时推进；同状态重放不动任何字段
	if status == chatmodel.ReceiptRead {
		res, err := s.MsgColl.UpdateOne(ctx,
			bson.M{
				"msg_id":   msgID,
				"receipts": bson.M{"$elemMatch": bson.M{"user_id": userID, "status": chatmodel.ReceiptDelivered}},
			},
			bson.M{"$set": bson.M{"receipts.$.status": status, "receipts.$.updated_at_ms": now}},
		)
		if err != nil {
			return errs.ErrTransient.WrapMsg("update receipt", "err", err)
		}
		if res.ModifiedCount > 0 {
			return nil
		}
	}

	// 没有条目：追加（$ne 防止重复追加）
	_, err := s.MsgColl.UpdateOne(ctx,
		bson.M{"msg_id": msgID, "receipts.user_id": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"receipts": chatmodel.ReceiptEntry{UserID: userID, Status: status, UpdatedAtMs: now}}},
	)
	if err != nil {
		return errs.ErrTransient.WrapMsg("append receipt", "err", err)
	}
	return nil
}

// ApplyReceiptBatch 批量回执；单条失败不中断其余。
func (s *Store) ApplyReceiptBatch(ctx context.Context, userID, status string, msgIDs []string) error {
	var lastErr error
	for _, id := range msgIDs {
		if err := s.ApplyReceipt(ctx, id, userID, status); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ===== 查询 =====

func (s *Store) getConversation(ctx context.Context, convID string) (*chatmodel.Conversation, error) {
	var conv chatmodel.Conversation
	err := s.ConvColl.FindOne(ctx, bson.M{"conversation_id": convID}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conv", convID)
	}
	if err != nil {
		return nil, errs.ErrTransient.WrapMsg("find conversation", "err", err)
	}
	return &conv, nil
}

// GetConversation 导出版本（auto-join、成员名单都要它）。
func (s *Store) GetConversation(ctx context.Context, convID string) (*chatmodel.Conversation, error) {
	return s.getConversation(ctx, convID)
}

// ListParticipantConversationIDs 用户参与的全部会话ID（auto-join 用）；空结果正常。
func (s *Store) ListParticipantConversationIDs(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.ConvColl.Find(ctx,
		bson.M{"participants": bson.M{"$elemMatch": bson.M{"user_id": userID, "active": true}}},
		options.Find().SetProjection(bson.M{"conversation_id": 1}),
	)
	if err != nil {
		return nil, errs.ErrTransient.WrapMsg("list conversations", "err", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []string
	for cur.Next(ctx) {
		var c chatmodel.Conversation
		if err := cur.Decode(&c); err != nil {
			continue
		}
		out = append(out, c.ConversationID)
	}
	return out, cur.Err()
}

// IsActiveParticipant 发送前的成员校验（被移出会话的用户发不进来）。
func (s *Store) IsActiveParticipant(ctx context.Context, userID, convID string) (bool, error) {
	n, err := s.ConvColl.CountDocuments(ctx, bson.M{
		"conversation_id": convID,
		"participants":    bson.M{"$elemMatch": bson.M{"user_id": userID, "active": true}},
	})
	if err != nil {
		return false, errs.ErrTransient.WrapMsg("participant check", "err", err)
	}
	return n > 0, nil
}

// MessagesSince delta sync：严格大于游标的消息，升序返回。
// convID 为空表示全局范围（用户参与的所有会话）。
func (s *Store) MessagesSince(ctx context.Context, userID, convID string, sinceMs int64, limit int64) ([]chatmodel.MessageModel, error) {
	filter := bson.M{"created_at_ms": bson.M{"$gt": sinceMs}}
	if convID != "" {
		filter["conversation_id"] = convID
	} else {
		convIDs, err := s.ListParticipantConversationIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(convIDs) == 0 {
			return nil, nil
		}
		filter["conversation_id"] = bson.M{"$in": convIDs}
	}
	if limit <= 0 {
		limit = 200
	}
	cur, err := s.MsgColl.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at_ms", Value: 1}, {Key: "msg_id", Value: 1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, errs.ErrTransient.WrapMsg("delta query", "err", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []chatmodel.MessageModel
	for cur.Next(ctx) {
		var m chatmodel.MessageModel
		if err := cur.Decode(&m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, cur.Err()
}

// ===== 摘要 =====

// UpdateConversationSummary 消息落库后刷新会话列表冗余字段。
func (s *Store) UpdateConversationSummary(ctx context.Context, convID string, last *chatmodel.MessageModel) error {
	preview := tools.TruncateUTF8(last.Content, replyPreviewMax)
	_, err := s.ConvColl.UpdateOne(ctx,
		bson.M{"conversation_id": convID},
		bson.M{"$set": bson.M{
			"last_msg_id":      last.MsgID,
			"last_msg_preview": preview,
			"last_msg_at_ms":   last.CreatedAtMs,
			"updated_at_ms":    time.Now().UnixMilli(),
		}},
	)
	if err != nil {
		return errs.ErrTransient.WrapMsg("update summary", "err", err)
	}
	return nil
}

// InvalidateSummaryCache 干掉参与者的会话列表缓存（redis，best-effort）。
func (s *Store) InvalidateSummaryCache(ctx context.Context, userIDs []string) {
	rdb := redis2.GetRedis()
	if rdb == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, u := range userIDs {
		keys = append(keys, "conv:sum:"+u)
	}
	_ = rdb.Del(ctx, keys...).Err()
}
