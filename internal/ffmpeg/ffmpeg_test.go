package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}
	return path
}

func TestCaptureCommand(t *testing.T) {
	cmd := CaptureCommand("ffmpeg", "http://example.com/live.m3u8", 90, "/rec/temp_recording_1.mkv")

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-headers", "User-Agent: Mozilla/5.0\r\nReferer: https://www.tataplay.com/\r\nOrigin: https://www.tataplay.com",
		"-i", "http://example.com/live.m3u8",
		"-t", "90",
		"-map", "0:v?",
		"-map", "0:a?",
		"-map", "0:s?",
		"-c", "copy",
		"/rec/temp_recording_1.mkv",
	}, cmd.Args)
	assert.Equal(t, "ffmpeg", cmd.Binary)
	assert.Equal(t, "/rec/temp_recording_1.mkv", cmd.Output)
}

func TestCaptureCommand_InputArgs(t *testing.T) {
	cmd := CaptureCommand("ffmpeg", "http://example.com/live.m3u8", 60, "out.mkv", "-reconnect", "1", "-rw_timeout", "15000000")

	i := slices.Index(cmd.Args, "-i")
	require.Positive(t, i)
	assert.Equal(t, []string{"-reconnect", "1", "-rw_timeout", "15000000"}, cmd.Args[i-4:i], "input args precede -i")
	assert.Equal(t, "-headers", cmd.Args[i-6], "after the origin headers")
}

func TestThumbnailCommand(t *testing.T) {
	cmd := ThumbnailCommand("/usr/bin/ffmpeg", "in.mkv", "in.mkv.jpg")

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-i", "in.mkv",
		"-vf", "scale=320:-1",
		"-ss", "00:00:01", "-vframes", "1", "-q:v", "2",
		"in.mkv.jpg",
	}, cmd.Args)
	assert.Contains(t, cmd.String(), "/usr/bin/ffmpeg -loglevel error")
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		output       string
		full         string
		major, minor int
		ok           bool
	}{
		{"ffmpeg version 6.0 Copyright (c) 2000-2023\nbuilt with gcc", "6.0", 6, 0, true},
		{"ffmpeg version n6.1-2-gabc Copyright", "n6.1-2-gabc", 6, 1, true},
		{"ffmpeg version 7.0.1", "7.0.1", 7, 0, true},
		{"ffmpeg version N-112345-gdeadbeef", "N-112345-gdeadbeef", 0, 0, true},
		{"not ffmpeg", "", 0, 0, false},
	}
	for _, tt := range tests {
		full, major, minor, ok := ParseVersion(tt.output)
		assert.Equal(t, tt.ok, ok, tt.output)
		assert.Equal(t, tt.full, full, tt.output)
		assert.Equal(t, tt.major, major, tt.output)
		assert.Equal(t, tt.minor, minor, tt.output)
	}
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
	assert.Contains(t, info.JSON(), `"major_version": 6`)
}

func TestFindBinary(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fakeffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	plain := filepath.Join(dir, "notexec")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))

	got, err := FindBinary("ffmpeg", bin, "")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	t.Setenv("TVREC_TEST_FFMPEG", bin)
	got, err = FindBinary("definitely-not-a-binary-name", "", "TVREC_TEST_FFMPEG")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = FindBinary("ffmpeg", plain, "")
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	_, err = FindBinary("definitely-not-a-binary-name", "", "")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"index": 0, "codec_name": "aac", "codec_type": "audio"},
			{"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080}
		],
		"format": {"filename": "x.mkv", "format_name": "matroska,webm", "duration": "3599.960000"}
	}`)
	res, err := ParseProbeOutput(data)
	require.NoError(t, err)

	d, err := res.DurationSeconds()
	require.NoError(t, err)
	assert.InDelta(t, 3599.96, d, 0.001)

	r, err := res.Resolution()
	require.NoError(t, err)
	assert.Equal(t, "1920x1080", r)

	_, err = (&ProbeResult{}).Resolution()
	assert.ErrorIs(t, err, ErrNoVideoStream)
	_, err = (&ProbeResult{}).DurationSeconds()
	assert.Error(t, err)

	_, err = ParseProbeOutput([]byte("nope"))
	assert.Error(t, err)
}

func TestProber_NoBinary(t *testing.T) {
	_, err := NewProber("").Duration(context.Background(), "x.mkv")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "", Tail("abc", 0))
	assert.Equal(t, "abc", Tail("  abc\n", 10))
	assert.Equal(t, "def", Tail("abcdef", 3))
	assert.Equal(t, "é!", Tail("café!", 2))
}

func TestCommand_StderrAndExitCode(t *testing.T) {
	sh := skipIfNoShell(t)
	cmd := &Command{Binary: sh, Args: []string{"-c", "echo first >&2; echo 'Connection refused' >&2; exit 3"}}

	require.NoError(t, cmd.Start(context.Background()))
	err := cmd.Wait()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Equal(t, []string{"first", "Connection refused"}, cmd.StderrLines())
	assert.Equal(t, "Connection refused", cmd.StderrTail(18))
}

func TestCommand_Kill(t *testing.T) {
	sh := skipIfNoShell(t)
	cmd := &Command{Binary: sh, Args: []string{"-c", "exec sleep 30"}}

	require.NoError(t, cmd.Start(context.Background()))
	assert.NotZero(t, cmd.PID())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	require.NoError(t, cmd.Kill())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after kill")
	}
	assert.NoError(t, cmd.Kill(), "killing an exited process is not an error")
}

func TestCommand_WaitBeforeStart(t *testing.T) {
	cmd := &Command{Binary: "ffmpeg"}
	assert.ErrorIs(t, cmd.Wait(), ErrNotStarted)
	assert.NoError(t, cmd.Kill())
	assert.Zero(t, cmd.PID())
	assert.Nil(t, cmd.Stats(context.Background()))
}
