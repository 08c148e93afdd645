package handlers

import (
	"context"
	"time"

	"CSProject/logger"
	"CSProject/service/chat"
	"CSProject/tools/decode"
	"CSProject/tools/errs"
	"CSProject/tools/security"
)

type AuthHandler struct{}

func NewAuthHandler() chat.Handler          { return &AuthHandler{} }
func (h *AuthHandler) Type() chat.FrameType { return chat.FrameAuth }

// Handle 握手认证。凭证缺失/非法 -> AuthenticationError；
// 返回 error 让读循环给失败计数（连续失败才断连）。
func (h *AuthHandler) Handle(ctx *chat.Context, f *chat.Frame, sess *chat.Session) error {
	if sess.State() == chat.StateActive {
		// 重复 auth 幂等：直接回成功
		sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"user_id": sess.UserID}))
		return nil
	}

	p, err := decode.DecodeMap[chat.AuthPayload](f.Data)
	if err != nil || p.Token == "" {
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrAuthentication))
		return errs.ErrAuthentication.WrapMsg("missing/malformed credentials")
	}

	userID, err := security.Parse(security.DefaultOptions(ctx.S.Conf().JwtSecret), p.Token)
	if err != nil {
		logger.Infof("[auth] token parse err conn=%s: %v", sess.ConnID, err)
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrAuthentication))
		return errs.ErrAuthentication.WrapMsg("invalid token")
	}

	actCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctx.S.ActivateSession(actCtx, sess, userID, p.Name); err != nil {
		logger.Errorf("[auth] activate err user=%s conn=%s: %v", userID, sess.ConnID, err)
		sess.Enqueue(chat.BuildErr(f.Seq, errs.ErrTransient))
		return err
	}

	sess.Enqueue(chat.BuildOK(f.Seq, map[string]any{"user_id": userID, "conn_id": sess.ConnID}))
	return nil
}
