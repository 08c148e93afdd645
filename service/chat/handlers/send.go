package handlers

import (
	"context"
	"time"

	"CSProject/logger"
	chatmodel "CSProject/module/chat/model"
	"CSProject/service/chat"
	"CSProject/service/natsx"
	"CSProject/service/ratelimit"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
	"CSProject/tools/safe"
)

const persistTimeout = 5 * time.Second

type SendHandler struct{}

func NewSendHandler() chat.Handler          { return &SendHandler{} }
func (h *SendHandler) Type() chat.FrameType { return chat.FrameSend }

// Handle message:send 主链路。
//  1. 限流（无副作用拒绝） 2) 校验+清洗 3) 成员校验 4) 落库（含 reply 解析）
//  5. 最小负载广播（排除发送者）+ 完整负载回发送者 6) 清 typing
//  7. 摘要失效 + 离线推送（fire-and-forget，绝不阻塞应答）
func (h *SendHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	s := ctx.S

	if !s.Limiter().Allow(sess.UserID, ratelimit.OpSend) {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrRateLimit))
		return nil
	}

	p, err := decode.DecodeMap[chat.SendPayload](f.Data)
	if err != nil || p.ConversationID == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	content := chat.SanitizeContent(p.Content)
	if content == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrValidation))
		return nil
	}
	if p.ContentType == "" {
		p.ContentType = chatmodel.ContentTypeText
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	// 成员名单一把取齐：校验 + 完整负载的资料快照 + 推送名单
	conv, err := s.Store().GetConversation(dbCtx, p.ConversationID)
	if err != nil {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.AsCodeError(err)))
		return nil
	}
	sender := conv.ActiveParticipant(sess.UserID)
	if sender == nil {
		// 被移出会话的用户发不进来
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrAuthorization))
		return nil
	}

	m, err := s.Store().PersistMessage(dbCtx, p.ConversationID, sess.UserID, content, p.ContentType, p.ReplyToID)
	if err != nil {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.AsCodeError(err)))
		return nil
	}

	// 最小负载：ids+内容+时间戳，不带资料（广播带宽省在这）
	minimal := map[string]any{
		"msg_id":          m.MsgID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"content":         m.Content,
		"content_type":    m.ContentType,
		"created_at_ms":   m.CreatedAtMs,
	}
	if m.ReplyTo != nil {
		minimal["reply_to_id"] = m.ReplyTo.MsgID
	}
	s.Rooms().Broadcast(p.ConversationID, chat.BuildEvent(chat.FrameMessageNew, minimal), sess.ConnID)

	// 完整负载：只回发送者（资料它本地都有，带上是为了回填乐观条目）
	full := map[string]any{
		"msg_id":          m.MsgID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"sender_name":     sender.Name,
		"sender_face":     sender.FaceURL,
		"content":         m.Content,
		"content_type":    m.ContentType,
		"created_at_ms":   m.CreatedAtMs,
		"status":          chatmodel.ReceiptSent,
	}
	if m.ReplyTo != nil {
		full["reply_to"] = m.ReplyTo
	}
	if p.TempID != "" {
		full["temp_id"] = p.TempID
	}

	s.Typing().Stop(p.ConversationID, sess.UserID)

	// fire-and-forget：摘要 + 离线推送
	participants := conv.ParticipantIDs()
	title := conv.Title
	safe.Go(func() {
		bg, cancel2 := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel2()
		if err := s.Store().UpdateConversationSummary(bg, m.ConversationID, m); err != nil {
			logger.Warnf("[send] summary update failed conv=%s err=%v", m.ConversationID, err)
		}
		s.Store().InvalidateSummaryCache(bg, participants)

		if s.Push() == nil {
			return
		}
		var offline []string
		for _, uid := range participants {
			if uid == m.SenderID {
				continue
			}
			if !s.Presence().IsOnline(uid) {
				offline = append(offline, uid)
			}
		}
		if len(offline) > 0 {
			if err := s.Push().PublishPush(natsx.PushTask{
				UserIDs:  offline,
				Title:    title,
				Body:     m.Content,
				ConvID:   m.ConversationID,
				SenderID: m.SenderID,
			}); err != nil {
				logger.Warnf("[send] push publish failed conv=%s err=%v", m.ConversationID, err)
			}
		}
	})

	sess.Enqueue(chat.BuildOK(f.Seq, full))
	return nil
}
