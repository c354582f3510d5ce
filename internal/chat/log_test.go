package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendStampsTime(t *testing.T) {
	l := NewLog(10)
	l.Append(Entry{From: "alice-0001", Kind: KindMessage, Body: "hi"})

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].At.IsZero())
}

func TestRingDropsOldest(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append(Entry{From: "alice-0001", Kind: KindMessage, Body: fmt.Sprintf("msg %d", i)})
	}

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "msg 2", entries[0].Body)
	assert.Equal(t, "msg 4", entries[2].Body)
	assert.Equal(t, 3, l.Len())
}

func TestZeroMaxFallsBackToDefault(t *testing.T) {
	l := NewLog(0)
	for i := 0; i < DefaultBufferSize+10; i++ {
		l.Append(Entry{Body: "x"})
	}
	assert.Equal(t, DefaultBufferSize, l.Len())
}

func TestFileEntry(t *testing.T) {
	l := NewLog(10)
	l.Append(Entry{From: "bob-0002", Kind: KindFile, FileName: "notes.pdf", FileSize: 1024, FileRef: "blob:abc"})

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, KindFile, entries[0].Kind)
	assert.Equal(t, "notes.pdf", entries[0].FileName)
	assert.Empty(t, entries[0].Body)
}
