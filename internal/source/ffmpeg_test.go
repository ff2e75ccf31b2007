package source

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg points FFmpegPath at a shell script for the duration of the test
func fakeFFmpeg(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	prev := FFmpegPath
	FFmpegPath = path
	t.Cleanup(func() { FFmpegPath = prev })
}

func TestFFmpegReadsEveryFrameBeforeExit(t *testing.T) {
	fakeFFmpeg(t, "head -c 46080 /dev/zero")

	src, err := OpenFFmpeg("rtsp://camera/1", Options{Width: 64, Height: 48})
	require.NoError(t, err)
	defer src.Close()

	for i := 0; i < 5; i++ {
		require.True(t, src.IsOpen())
		frame, err := src.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, uint64(i), frame.Seq)
		assert.Equal(t, 64, frame.Width())
	}

	_, err = src.ReadFrame()
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, src.IsOpen())
}

func TestFFmpegOpenTimesOutOnSilentStream(t *testing.T) {
	fakeFFmpeg(t, "exec sleep 5")

	start := time.Now()
	_, err := OpenFFmpeg("rtsp://silent/1", Options{Width: 64, Height: 48, OpenTimeout: 100 * time.Millisecond})

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.ErrorIs(t, err, ErrOpenTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestFFmpegExitWithoutFrameIsOpenError(t *testing.T) {
	fakeFFmpeg(t, "exit 1")

	_, err := OpenFFmpeg("rtsp://down/1", Options{Width: 64, Height: 48})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFFmpegCloseUnblocksRead(t *testing.T) {
	fakeFFmpeg(t, "head -c 9216 /dev/zero; exec sleep 5")

	src, err := OpenFFmpeg("rtsp://camera/2", Options{Width: 64, Height: 48})
	require.NoError(t, err)

	_, err = src.ReadFrame()
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := src.ReadFrame()
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("read still blocked after Close")
	}
}
