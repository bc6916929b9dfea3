package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/password"
)

func TestHashNeverEqualsPlaintext(t *testing.T) {
	hash, err := password.Hash("StrongP@ss1")
	require.NoError(t, err)
	require.NotEqual(t, "StrongP@ss1", hash)
	require.Contains(t, hash, "$argon2id$")

	ok, err := password.Verify("StrongP@ss1", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("WrongP@ss1", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	first, err := password.Hash("StrongP@ss1")
	require.NoError(t, err)
	second, err := password.Hash("StrongP@ss1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	_, err := password.Verify("whatever", "not-a-hash")
	require.Error(t, err)
}

func TestValidatePolicy(t *testing.T) {
	cases := []struct {
		name     string
		password string
		valid    bool
	}{
		{"ok", "StrongP@ss1", true},
		{"ok symbols", "Aa1!aaaa", true},
		{"too short", "Aa1!a", false},
		{"no upper", "weakp@ss1", false},
		{"no lower", "WEAKP@SS1", false},
		{"no digit", "WeakP@ssword", false},
		{"no symbol", "WeakPass1", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := password.Validate(tc.password)
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, password.ErrWeak)
			}
		})
	}
}
