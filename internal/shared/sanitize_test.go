package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeText("  <b>hello</b> "))
	assert.Equal(t, "a & b", SanitizeText("a & b"))
	assert.Equal(t, "", SanitizeText("<script>alert(1)</script>"))
	assert.Equal(t, "line1\nline2", SanitizeText("line1\nline2\x00\x07"))
}

func TestUsernameRule(t *testing.T) {
	v := NewValidator()
	type form struct {
		Username string `validate:"username"`
	}
	assert.NoError(t, v.Struct(form{Username: "alice_01"}))
	assert.NoError(t, v.Struct(form{Username: "弹幕君"}))
	assert.Error(t, v.Struct(form{Username: "bad name"}))
	assert.Error(t, v.Struct(form{Username: "<x>"}))
}

func TestUserSafeMessage(t *testing.T) {
	assert.Equal(t, "username taken", UserSafeMessage(Conflict("username taken")))
	assert.Equal(t, "not found", UserSafeMessage(ErrNotFound))
	assert.Equal(t, "", UserSafeMessage(assert.AnError))
}
