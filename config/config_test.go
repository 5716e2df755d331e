package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	require := require.New(t)
	c := NewConfig(WithRootDir(t.TempDir()))
	require.Equal(15*24*time.Hour, c.DeferredRequestMaxAge)
	require.Equal(time.Hour, c.CleanupInterval)
	require.Equal("discussions", c.NatsSubjectPrefix)
	require.Equal("", c.NatsURL)
	require.NotNil(c.Logger("test"))
}

func TestOptions(t *testing.T) {
	require := require.New(t)
	c := NewConfig(
		WithRootDir(t.TempDir()),
		WithDebug(true),
		WithLoggingPrefix("p"),
		WithDeferredRequestMaxAge(time.Minute),
		WithCleanupInterval(0),
		WithNatsURL("nats://localhost:4222"),
		WithNatsSubjectPrefix("x"),
		WithUpdatesChannelCapacity(3),
	)
	require.True(c.Debug)
	require.Equal("p", c.LoggingPrefix)
	require.Equal(time.Minute, c.DeferredRequestMaxAge)
	require.Equal(time.Duration(0), c.CleanupInterval)
	require.Equal("nats://localhost:4222", c.NatsURL)
	require.Equal("x", c.NatsSubjectPrefix)
	require.Equal(3, c.UpdatesChannelCapacity)
}
