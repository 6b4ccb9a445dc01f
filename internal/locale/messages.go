// Package locale translates backend error details into user facing text.
package locale

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/danmu-hub/console/internal/permissions"
)

// Message keys.
const (
	MsgPasswordMissing   = "password.missing"
	MsgPasswordTooShort  = "password.too_short"
	MsgPasswordIncorrect = "password.incorrect"
	MsgPasswordDisabled  = "password.disabled"
	MsgPasswordFailed    = "password.failed"
	MsgPasswordChanged   = "password.changed"

	MsgDenySelf      = "deny.self"
	MsgDenySuper     = "deny.super"
	MsgDenySuperOnly = "deny.super_only"
	MsgDenyMissing   = "deny.missing"
	MsgDenyEditUsers = "deny.edit_users"
	MsgGenericFailed = "generic.failed"

	MsgInviteNotFound    = "invite.not_found"
	MsgInviteExpired     = "invite.expired"
	MsgInviteNoRemaining = "invite.no_remaining"
)

// Backend details the password endpoint returns. Clients pattern-match them.
const (
	DetailPasswordMissing   = "Missing oldPassword or newPassword"
	DetailPasswordTooShort  = "New password must be at least 8 characters"
	DetailPasswordIncorrect = "Incorrect old password"
	DetailPasswordDisabled  = "Password change disabled by admin"
)

var supported = []language.Tag{language.SimplifiedChinese, language.English}

var matcher = language.NewMatcher(supported)

var entries = map[language.Tag]map[string]string{
	language.SimplifiedChinese: {
		MsgPasswordMissing:   "请输入当前密码与新密码",
		MsgPasswordTooShort:  "新密码长度不足（至少8位）",
		MsgPasswordIncorrect: "当前密码不正确",
		MsgPasswordDisabled:  "已被管理员禁止修改密码",
		MsgPasswordFailed:    "修改失败",
		MsgPasswordChanged:   "密码已更新",
		MsgDenySelf:          "不能编辑自己的权限",
		MsgDenySuper:         "不能编辑超级管理员的权限",
		MsgDenySuperOnly:     "仅超级管理员可执行此操作",
		MsgDenyMissing:       "您没有权限（需要 %s）",
		MsgDenyEditUsers:     "您没有编辑用户权限（需要 editUsers）",
		MsgGenericFailed:     "操作失败",
		MsgInviteNotFound:    "邀请码不存在",
		MsgInviteExpired:     "邀请码已过期",
		MsgInviteNoRemaining: "邀请码无可用次数",
	},
	language.English: {
		MsgPasswordMissing:   "Enter the current and the new password",
		MsgPasswordTooShort:  "The new password is too short (at least 8 characters)",
		MsgPasswordIncorrect: "The current password is incorrect",
		MsgPasswordDisabled:  "Password changes were disabled by an administrator",
		MsgPasswordFailed:    "Password change failed",
		MsgPasswordChanged:   "Password updated",
		MsgDenySelf:          "You cannot edit your own permissions",
		MsgDenySuper:         "The super administrator cannot be edited",
		MsgDenySuperOnly:     "Only the super administrator can do this",
		MsgDenyMissing:       "Permission required: %s",
		MsgDenyEditUsers:     "You are not allowed to edit users (editUsers required)",
		MsgGenericFailed:     "Operation failed",
		MsgInviteNotFound:    "Invite code not found",
		MsgInviteExpired:     "Invite code has expired",
		MsgInviteNoRemaining: "Invite code has no uses left",
	},
}

func init() {
	for tag, msgs := range entries {
		for key, text := range msgs {
			if err := message.SetString(tag, key, text); err != nil {
				panic(err)
			}
		}
	}
}

// Match picks the supported language for an Accept-Language header value.
// Simplified Chinese is the fallback.
func Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.SimplifiedChinese
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.SimplifiedChinese
	}
	return supported[idx]
}

// Translate renders key in tag.
func Translate(tag language.Tag, key string, args ...any) string {
	return message.NewPrinter(tag).Sprintf(key, args...)
}

var passwordDetails = []struct {
	substr string
	key    string
}{
	{"Missing oldPassword", MsgPasswordMissing},
	{"New password must be at least", MsgPasswordTooShort},
	{"Incorrect old password", MsgPasswordIncorrect},
	{"disabled by admin", MsgPasswordDisabled},
}

// PasswordError maps a password-change failure detail to localized text. Unknown
// details are returned unchanged; an empty detail yields the generic message.
func PasswordError(tag language.Tag, detail string) string {
	for _, p := range passwordDetails {
		if strings.Contains(detail, p.substr) {
			return Translate(tag, p.key)
		}
	}
	if strings.TrimSpace(detail) == "" {
		return Translate(tag, MsgPasswordFailed)
	}
	return detail
}

// Denial maps a guard error to localized text.
func Denial(tag language.Tag, err error) string {
	var missing *permissions.MissingPermissionError
	switch {
	case errors.Is(err, permissions.ErrSelf):
		return Translate(tag, MsgDenySelf)
	case errors.Is(err, permissions.ErrSuperTarget):
		return Translate(tag, MsgDenySuper)
	case errors.Is(err, permissions.ErrPasswordChangeDisabled):
		return Translate(tag, MsgPasswordDisabled)
	case errors.Is(err, permissions.ErrSuperOnly):
		return Translate(tag, MsgDenySuperOnly)
	case errors.As(err, &missing):
		if missing.Key == permissions.EditUsers {
			return Translate(tag, MsgDenyEditUsers)
		}
		return Translate(tag, MsgDenyMissing, missing.Key)
	}
	return Translate(tag, MsgGenericFailed)
}

// InviteReason maps an invite rejection reason to localized text. A disabled
// invite reads as not found.
func InviteReason(tag language.Tag, reason string) string {
	switch reason {
	case "expired":
		return Translate(tag, MsgInviteExpired)
	case "no_remaining":
		return Translate(tag, MsgInviteNoRemaining)
	}
	return Translate(tag, MsgInviteNotFound)
}
