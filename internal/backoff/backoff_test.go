package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	policy := New(100*time.Millisecond, time.Second)

	for attempt := 0; attempt < 10; attempt++ {
		d := policy.Delay(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}

	// The deterministic half alone already separates early attempts.
	require.GreaterOrEqual(t, policy.Delay(4), 500*time.Millisecond/2)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	policy := New(0, 0)
	require.Equal(t, 250*time.Millisecond, policy.Base)
	require.Equal(t, 5*time.Second, policy.Max)
}
