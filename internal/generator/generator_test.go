package generator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateNoOpUnderBudget(t *testing.T) {
	history := make([]int32, 10)
	got := truncate(history, 5, 50, 4096)
	require.Len(t, got, 10)
}

func TestTruncateDrainsOldestFirst(t *testing.T) {
	history := make([]int32, 100)
	for i := range history {
		history[i] = int32(i)
	}
	// total = 100 + 20 + 50 = 170, context = 110 -> excess = 60
	got := truncate(history, 20, 50, 110)
	require.Len(t, got, 40)
	require.Equal(t, int32(60), got[0])
}

func TestTruncateClearsEntirelyWhenExcessExceedsHistory(t *testing.T) {
	history := make([]int32, 5)
	got := truncate(history, 100, 50, 10)
	require.Empty(t, got)
}

func TestFullMessageListPrependsSystemPrompt(t *testing.T) {
	g := &Generator{systemPrompt: "be terse"}
	list := g.fullMessageList()
	require.Len(t, list, 1)
	require.Equal(t, "system", list[0].Role)
}

func TestFullMessageListOmitsSystemWhenUnset(t *testing.T) {
	g := &Generator{}
	list := g.fullMessageList()
	require.Empty(t, list)
}
