package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPidAndCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "qnetd.pid")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()

	require.Equal(t, path, l.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data[:len(data)-1]))
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestAcquireSecondTimeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qnetd.pid")

	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestReleaseThenReacquireSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qnetd.pid")

	first, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := Acquire(path)
	require.NoError(t, err)
	defer second.Release()
}
