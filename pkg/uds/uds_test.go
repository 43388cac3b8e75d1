package uds

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hft/pkg/exception"
)

func TestPath(t *testing.T) {
	tests := []struct {
		addr string
		want string
		ok   bool
	}{
		{"unix:/tmp/a.sock", "/tmp/a.sock", true},
		{"unix:///tmp/a.sock", "/tmp/a.sock", true},
		{":8080", "", false},
		{"127.0.0.1:9000", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			got, ok := Path(tc.addr)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Path mismatch: got %q,%v want %q,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestListenAndDial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.sock")
	ln, err := Listen(path)
	require.NoError(t, err)

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("ok"))
		_ = c.Close()
	}()

	c, err := Dialer(path)(context.Background(), "tcp", "ignored:80")
	require.NoError(t, err)
	got, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Equal(t, "ok", string(got))
	require.NoError(t, c.Close())

	require.NoError(t, ln.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.sock")
	first, err := Listen(path)
	require.NoError(t, err)
	first.SetUnlinkOnClose(false)
	require.NoError(t, first.Close())

	second, err := Listen(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestListenRejects(t *testing.T) {
	_, err := Listen("")
	require.ErrorIs(t, err, exception.ErrConfigMissing)

	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err = Listen(path)
	require.ErrorIs(t, err, ErrPathNotSocket)
}
