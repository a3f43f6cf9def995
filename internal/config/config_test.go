package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load()
	req.NoError(err)

	req.Equal(8080, cfg.Server.Port)
	req.Equal(30*time.Second, cfg.WebSocket.PingInterval)
	req.Equal(60*time.Second, cfg.WebSocket.PongWait)
	req.Equal(int64(8192), cfg.WebSocket.MaxMessageSize)
	req.Equal(50, cfg.WebSocket.HistoryReplay)
	req.Equal("memory", cfg.Bus.Kind)
	req.Equal("minichat:room", cfg.Bus.ChannelPrefix)
	req.Equal(64, cfg.Bus.SubscriberBuffer)
	req.Equal(float64(20), cfg.Limits.EventsPerSecond)
	req.Equal(40, cfg.Limits.Burst)
	req.Equal("info", cfg.Log.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	req := require.New(t)

	t.Setenv("PORT", "9191")
	t.Setenv("BUS_KIND", "redis")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	req.NoError(err)

	req.Equal(9191, cfg.Server.Port)
	req.Equal("redis", cfg.Bus.Kind)
	req.Equal("debug", cfg.Log.Level)
}
