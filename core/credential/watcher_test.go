package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("# pool\nabc\n\n  def  \n#ghi\n"), 0o600))

	ids, err := ReadIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "def"}, ids)

	_, err = ReadIDFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o600))

	pool := NewPool([]string{"one"}, nil)
	w, err := NewWatcher(path, pool, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o600))

	assert.Eventually(t, func() bool {
		return pool.Contains("two")
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, pool.Contains("one"))
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o600))

	pool := NewPool([]string{"one"}, nil)
	w, err := NewWatcher(path, pool, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x\n"), 0o600))

	select {
	case <-w.reloaded:
		t.Fatal("unexpected reload for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, []State{{ID: "one", Healthy: true}}, pool.Snapshot())
}

func TestWatcherKeepsStaticIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	pool := NewPool([]string{"from-env", "from-file"}, nil)
	w, err := NewWatcher(path, pool, []string{"from-env"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("replacement\n"), 0o600))
	require.NoError(t, w.Reload())

	assert.True(t, pool.Contains("from-env"))
	assert.True(t, pool.Contains("replacement"))
	assert.False(t, pool.Contains("from-file"))
}
