package axisalloc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterrors "purgebelt-go/pkg/errors"
)

func TestAllocateSkipsReserved(t *testing.T) {
	a := New(DefaultReserved)

	letter, err := a.Allocate("belt")
	require.NoError(t, err)
	assert.Equal(t, "A", letter)

	next, err := a.Allocate("other")
	require.NoError(t, err)
	assert.Equal(t, "B", next)

	owner, ok := a.Owner("a")
	assert.True(t, ok)
	assert.Equal(t, "belt", owner)
}

func TestAllocateDeterministicAfterFree(t *testing.T) {
	a := New(DefaultReserved)
	for i := 0; i < 3; i++ {
		_, err := a.Allocate(fmt.Sprint(i))
		require.NoError(t, err)
	}
	a.Free("B")
	letter, err := a.Allocate("again")
	require.NoError(t, err)
	assert.Equal(t, "B", letter, "lowest free letter is reused")
	assert.Equal(t, []string{"A", "B", "C"}, a.InUse())

	// freeing an unheld letter is harmless
	a.Free("Q")
	a.Free("")
	assert.Len(t, a.InUse(), 3)
}

func TestExhaustion(t *testing.T) {
	a := New(DefaultReserved)
	total := a.Available()
	assert.Equal(t, 20, total)
	for i := 0; i < total; i++ {
		_, err := a.Allocate(fmt.Sprint(i))
		require.NoError(t, err)
	}
	before := a.InUse()

	_, err := a.Allocate("one too many")
	require.Error(t, err)
	assert.True(t, hosterrors.Is(err, hosterrors.ErrNoFreeResource))
	assert.Equal(t, before, a.InUse(), "failed allocation changes nothing")
	assert.Equal(t, 0, a.Available())
}

func TestReserve(t *testing.T) {
	a := New(DefaultReserved)
	require.NoError(t, a.Reserve("a", "belt"))
	require.NoError(t, a.Reserve("A", "belt"), "re-reserving by the holder is a no-op")

	err := a.Reserve("A", "other")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrNoFreeResource))

	for _, bad := range []string{"X", "E", "N", "AB", "", "1"} {
		err := a.Reserve(bad, "belt")
		assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam), "letter %q", bad)
	}

	letter, err := a.Allocate("next")
	require.NoError(t, err)
	assert.Equal(t, "B", letter)
}

func TestValid(t *testing.T) {
	a := New("xyz")
	assert.False(t, a.Valid("X"))
	assert.True(t, a.Valid("E"), "only the configured set is reserved")
	assert.False(t, a.Valid("a"), "letters are upper case")
}
