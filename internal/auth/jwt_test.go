package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ParseBearerToken(tc.header); got != tc.want {
			t.Fatalf("ParseBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestVerifyAccessToken(t *testing.T) {
	token, err := SignAccessToken("op-1", RoleCashier, time.Hour, "s3cret")
	require.NoError(t, err)

	claims, err := VerifyAccessToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.OperatorID)
	assert.True(t, claims.Role.CanOperate())

	_, err = VerifyAccessToken(token, "other")
	assert.Error(t, err)

	expired, err := SignAccessToken("op-1", RoleCashier, -time.Minute, "s3cret")
	require.NoError(t, err)
	_, err = VerifyAccessToken(expired, "s3cret")
	assert.Error(t, err)

	anonymous, err := SignAccessToken("", RoleAdmin, time.Hour, "s3cret")
	require.NoError(t, err)
	_, err = VerifyAccessToken(anonymous, "s3cret")
	assert.Error(t, err)

	_, err = VerifyAccessToken("", "s3cret")
	assert.Error(t, err)
}

func TestCanOperate(t *testing.T) {
	assert.True(t, RoleAdmin.CanOperate())
	assert.True(t, RoleCashier.CanOperate())
	assert.False(t, RoleDisplay.CanOperate())
	assert.False(t, UserRole("").CanOperate())
}
