package fetcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAgentsFallsBackToDefault(t *testing.T) {
	t.Parallel()

	a := NewAgents(nil)
	require.Equal(t, DefaultUserAgent, a.Current())

	a = NewAgents([]string{"", ""})
	require.Equal(t, DefaultUserAgent, a.Current())
}

func TestAgentsRotate(t *testing.T) {
	t.Parallel()

	next := 0
	a := newAgents([]string{"one", "", "two", "three"}, func(n int) int {
		require.Equal(t, 3, n)
		i := next % n
		next++
		return i
	})
	require.Equal(t, "one", a.Current())
	require.Equal(t, "two", a.Rotate())
	require.Equal(t, "two", a.Current())
	require.Equal(t, "three", a.Rotate())
}

func TestAgentsRandomPickStaysInList(t *testing.T) {
	t.Parallel()

	list := []string{"a", "b", "c"}
	a := NewAgents(list)
	for i := 0; i < 50; i++ {
		require.Contains(t, list, a.Rotate())
	}
}
