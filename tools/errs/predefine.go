package errs

// ===== 错误码分配 =====
//
// 1001~1099 网关/会话层业务错误。客户端按 code 分支处理，msg 仅用于日志。
const (
	CodeValidation     = 1001 // 字段缺失/格式不对，拒绝时不产生任何副作用
	CodeAuthorization  = 1002 // 不是会话成员、不是消息发送者等
	CodeRateLimit      = 1003 // 限流拒绝，无副作用
	CodeNotFound       = 1004 // 会话/消息不存在
	CodeTransient      = 1005 // 存储/网络临时故障，可重试
	CodeTimeout        = 1006 // 发送在窗口内未得到服务端确认
	CodeAuthentication = 1007 // 握手凭证缺失/非法
)

var (
	ErrValidation     = &CodeError{Code: CodeValidation, Msg: "validation failed"}
	ErrAuthorization  = &CodeError{Code: CodeAuthorization, Msg: "not authorized"}
	ErrRateLimit      = &CodeError{Code: CodeRateLimit, Msg: "rate limit exceeded"}
	ErrNotFound       = &CodeError{Code: CodeNotFound, Msg: "record not found"}
	ErrTransient      = &CodeError{Code: CodeTransient, Msg: "transient failure"}
	ErrTimeout        = &CodeError{Code: CodeTimeout, Msg: "confirm timeout"}
	ErrAuthentication = &CodeError{Code: CodeAuthentication, Msg: "authentication failed"}
)

// New 快捷构造一个带 detail 的校验错误以外的通用错误。
func New(msg string, kv ...any) *CodeError {
	e := &CodeError{Code: CodeTransient, Msg: msg}
	if len(kv) > 0 {
		e.Detail = toString("", kv)
	}
	return e
}
