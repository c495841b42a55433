package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProtected(t *testing.T) {
	assert.False(t, IsProtected(AuthLogin))
	assert.False(t, IsProtected(Health))
	assert.True(t, IsProtected(AuthSetupTOTP))
	assert.True(t, IsProtected("DELETE /unknown"))
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/auth/login", Path(AuthLogin))
	assert.Equal(t, "/auth/mfa", Path(AuthUpdateMFA))
	assert.Equal(t, "/plain", Path("/plain"))
}
