package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeySlotKnownVectors(t *testing.T) {
	require.Equal(t, 12182, KeySlot("foo"))
	require.Equal(t, 0, KeySlot(""))
	require.Equal(t, KeySlot("{tag}anything"), KeySlot("{tag}else"))
}

func TestKeySlotHashTagEmptyBodyUsesWholeKey(t *testing.T) {
	require.Equal(t, KeySlot("foo{}bar"), KeySlot("foo{}bar"))
	require.NotEqual(t, KeySlot("foo{}bar"), KeySlot("bar"))
}

func TestKeySlotStaysInRangeAcrossManyKeys(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		slot := KeySlot(string(rune('a'+i%26)) + "-key-" + string(rune(i)))
		require.GreaterOrEqual(t, slot, 0)
		require.Less(t, slot, slotCount)
		seen[slot] = true
	}
	require.Greater(t, len(seen), 1) // not degenerately collapsing to one slot
}

func TestHashTagExtraction(t *testing.T) {
	require.Equal(t, "tag", hashTag("{tag}rest"))
	require.Equal(t, "tag", hashTag("prefix{tag}suffix"))
	require.Equal(t, "plainkey", hashTag("plainkey"))
	require.Equal(t, "{}both", hashTag("{}both")) // empty body falls back to whole key
}

func TestVerifySameSlot(t *testing.T) {
	require.NoError(t, VerifySameSlot([]string{"{u1}a", "{u1}b"}))
	err := VerifySameSlot([]string{"{u1}a", "{u2}b"})
	require.Error(t, err)
	var cse *CrossSlotError
	require.ErrorAs(t, err, &cse)
}
