package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lailoo/vibe-blog/internal/config"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(name, 10, 3)
	require.NoError(t, err)
	defer w.Close()

	for _, s := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		_, err := w.Write([]byte(s))
		require.NoError(t, err)
	}

	live, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "dddddddd\n", string(live))

	b1, err := os.ReadFile(name + ".1")
	require.NoError(t, err)
	assert.Equal(t, "cccccccc\n", string(b1))

	b2, err := os.ReadFile(name + ".2")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbb\n", string(b2))

	_, err = os.Stat(name + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterSingleFileTruncates(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(name, 4, 1)
	require.NoError(t, err)
	defer w.Close()

	_, _ = w.Write([]byte("abc"))
	_, _ = w.Write([]byte("xyz"))
	live, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(live))
}

func TestRotatingWriterRecoversFromFailedRotation(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(name, 10, 2)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("aaaaaaaa\n"))
	require.NoError(t, err)

	// a non-empty directory where the backup goes cannot be removed
	blocker := name + ".1"
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))
	n, err := w.Write([]byte("bbbbbbbb\n"))
	assert.Error(t, err)
	assert.Equal(t, 9, n)

	require.NoError(t, os.RemoveAll(blocker))
	for _, s := range []string{"cccccccc\n", "dddddddd\n", "eeeeeeee\n"} {
		_, err := w.Write([]byte(s))
		require.NoError(t, err, s)
	}

	live, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "eeeeeeee\n", string(live))
	b1, err := os.ReadFile(blocker)
	require.NoError(t, err)
	assert.Equal(t, "dddddddd\n", string(b1))
}

func TestNewWritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	s := &config.Settings{LogLevel: "info", LogDir: dir, LogMaxSize: datasize.MB, LogMaxFiles: 2}
	logger, err := New(s)
	require.NoError(t, err)
	logger.Info("hello")
	logger.Debug("hidden")
	_ = logger.Sync()

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(b, []byte(`"msg":"hello"`)))
	assert.False(t, bytes.Contains(b, []byte("hidden")))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&config.Settings{LogLevel: "loud"})
	require.Error(t, err)
}
