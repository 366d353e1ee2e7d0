package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriterRotatesPastMaxSize(t *testing.T) {
	dir := t.TempDir()
	w, err := newRotatingWriter(dir, 16*datasize.B)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var rolled, active int
	for _, e := range entries {
		if e.Name() == logFileName {
			active++
		} else {
			rolled++
		}
	}
	assert.Equal(t, 1, active, "active log file should still exist")
	assert.Equal(t, 1, rolled, "the first write should have been rotated out")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestRotatingWriterResumesExistingFile(t *testing.T) {
	dir := t.TempDir()
	w1, err := newRotatingWriter(dir, 1*datasize.MB)
	require.NoError(t, err)
	_, err = w1.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := newRotatingWriter(dir, 1*datasize.MB)
	require.NoError(t, err)
	defer w2.Close()
	_, err = w2.Write([]byte(" world"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}
