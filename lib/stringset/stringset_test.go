package stringset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringSet(t *testing.T) {
	set := New("/b", "/a", "/b")
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains("/a"))
	require.False(t, set.Contains("/c"))

	set.Add("/c")
	require.Equal(t, []string{"/a", "/b", "/c"}, set.Sorted())
	require.Nil(t, New().Sorted())
}
