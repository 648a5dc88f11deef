package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsernameLowercasesAndTrims(t *testing.T) {
	u, err := NewUsername("  Alice.Smith ")

	require.NoError(t, err)
	assert.Equal(t, Username("alice.smith"), u)
}

func TestNewUsernameRejectsBlank(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := NewUsername(raw)
		assert.ErrorIs(t, err, ErrEmptyUsername)
	}
}
