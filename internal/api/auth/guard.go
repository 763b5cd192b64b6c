package auth

import "errors"

// ErrForbidden 表示身份已确认但操作被拒绝，与未认证（401）是不同的错误类别。
var ErrForbidden = errors.New("forbidden")

// RequireOwner 校验资源所有者与调用者身份一致。
//
// 任务的读/改/删以及账户的改/删（仅允许本人）都要先通过这一检查。
func RequireOwner(ownerID, callerID uint) error {
	if ownerID != callerID {
		return ErrForbidden
	}
	return nil
}
