package lfs

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_CleansTrackedFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Track("*.bin")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(s.abs("assets"), 0755))

	w, err := s.Watch(40 * time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	var mu sync.Mutex
	var cleaned []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(rel string, _ *Pointer) {
			mu.Lock()
			cleaned = append(cleaned, rel)
			mu.Unlock()
		})
	}()

	content := []byte("large binary content")
	writeFile(t, s, "assets/model.bin", content)
	writeFile(t, s, "notes.txt", []byte("left alone"))

	require.Eventually(t, func() bool {
		return IsPointerText(readFile(t, s, "assets/model.bin"))
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []byte("left alone"), readFile(t, s, "notes.txt"))

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"assets/model.bin"}, cleaned)

	ptr, status, err := s.Smudge(context.Background(), "assets/model.bin")
	require.NoError(t, err)
	assert.Equal(t, StatusSmudged, status)
	assert.Equal(t, int64(len(content)), ptr.Size)
}

func TestWatcher_Ignored(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Watch(0)
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.ignored(s.abs(".tig/objects")))
	assert.True(t, w.ignored(s.abs("sub/.git/HEAD")))
	assert.False(t, w.ignored(s.abs("src/main.go")))
	assert.False(t, w.ignored(s.workdir))
}
