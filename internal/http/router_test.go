package http

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/vps-service/internal/config"
)

func newServerUnderTest() *Server {
	cfg := &config.Config{Server: config.ServerConfig{Mode: gin.TestMode}}
	return NewServer(cfg, &Handler{}, &WebhookHandler{})
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	require.True(t, rl.Allow("cli-1"))
	require.True(t, rl.Allow("cli-1"))
	assert.False(t, rl.Allow("cli-1"))

	// Other keys have their own budget.
	assert.True(t, rl.Allow("cli-2"))
}

func TestServersDoNotShareLimiterState(t *testing.T) {
	s1 := newServerUnderTest()
	s2 := newServerUnderTest()

	for i := 0; i < 30; i++ {
		require.True(t, s1.clientLimiter.Allow("cli-1"))
	}
	assert.False(t, s1.clientLimiter.Allow("cli-1"))

	// A fresh server carries fresh budgets.
	assert.True(t, s2.clientLimiter.Allow("cli-1"))
}
