package keepalive

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_HTTP11DefaultsToKeepAlive(t *testing.T) {
	t.Parallel()
	now := time.Now()
	set := Parse(Never(), http.Header{}, 1, 1, now)
	require.Equal(t, now.Add(DefaultTimeout), set.Deadline)
	require.Equal(t, Unlimited, set.Max)
	require.False(t, set.Expired(now))
}

func TestParse_HTTP10DefaultsToClose(t *testing.T) {
	t.Parallel()
	now := time.Now()
	set := Parse(Never(), http.Header{}, 1, 0, now)
	require.True(t, set.Expired(now))
}

func TestParse_HTTP10KeepAliveOptIn(t *testing.T) {
	t.Parallel()
	now := time.Now()
	header := http.Header{"Connection": []string{"keep-alive"}}
	set := Parse(Never(), header, 1, 0, now)
	require.False(t, set.Expired(now))
	require.Equal(t, now.Add(DefaultTimeout), set.Deadline)
}

func TestParse_ConnectionCloseRetiresImmediately(t *testing.T) {
	t.Parallel()
	now := time.Now()
	header := http.Header{"Connection": []string{"close"}}
	set := Parse(Never(), header, 1, 1, now)
	require.True(t, set.Expired(now))
	require.Equal(t, 0, set.Max)
}

func TestParse_KeepAliveTimeoutAndMax(t *testing.T) {
	t.Parallel()
	now := time.Now()
	header := http.Header{
		"Connection": []string{"keep-alive"},
		"Keep-Alive": []string{"timeout=30, max=100"},
	}
	set := Parse(Never(), header, 1, 1, now)
	require.Equal(t, now.Add(30*time.Second), set.Deadline)
	require.Equal(t, 100, set.Max)
}

func TestParse_MissingMaxDecrementsPreviousBudgetInstead(t *testing.T) {
	t.Parallel()
	now := time.Now()
	prev := Set{Deadline: now.Add(time.Hour), Max: 3}
	header := http.Header{
		"Connection": []string{"keep-alive"},
		"Keep-Alive": []string{"timeout=30"},
	}

	set := Parse(prev, header, 1, 1, now)
	require.Equal(t, 2, set.Max)

	set = Parse(set, header, 1, 1, now)
	require.Equal(t, 1, set.Max)

	set = Parse(set, header, 1, 1, now)
	require.Equal(t, 0, set.Max)
	require.True(t, set.Expired(now))
}

func TestParse_RepeatedExplicitMaxOverridesRatherThanDecrements(t *testing.T) {
	t.Parallel()
	now := time.Now()
	prev := Set{Deadline: now.Add(time.Hour), Max: 1}
	header := http.Header{
		"Connection": []string{"keep-alive"},
		"Keep-Alive": []string{"timeout=30, max=50"},
	}

	set := Parse(prev, header, 1, 1, now)
	require.Equal(t, 50, set.Max)
}

func TestSet_DecrementRetiresAtZero(t *testing.T) {
	t.Parallel()
	set := Set{Deadline: time.Now().Add(time.Hour), Max: 1}
	set = set.Decrement()
	require.Equal(t, 0, set.Max)
	require.True(t, set.Expired(time.Now()))
}

func TestSet_UnlimitedNeverDecrementsToZero(t *testing.T) {
	t.Parallel()
	set := Never()
	for i := 0; i < 5; i++ {
		set = set.Decrement()
	}
	require.Equal(t, Unlimited, set.Max)
	require.False(t, set.Expired(time.Now()))
}
