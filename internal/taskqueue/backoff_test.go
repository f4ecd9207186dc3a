package taskqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: 15 * time.Minute}

	require.Equal(t, time.Duration(0), b.Delay(1))
	require.Equal(t, 30*time.Second, b.Delay(2))
	require.Equal(t, 60*time.Second, b.Delay(3))
	require.Equal(t, 120*time.Second, b.Delay(4))
	require.Equal(t, 240*time.Second, b.Delay(5))
}

func TestBackoffDelayCapped(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: 2 * time.Minute}

	require.Equal(t, 2*time.Minute, b.Delay(4))
	require.Equal(t, 2*time.Minute, b.Delay(10))
	require.Equal(t, 2*time.Minute, b.Delay(50))
}
