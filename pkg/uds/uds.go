// Package uds opens Unix domain sockets for local operator endpoints.
package uds

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	yerrors "github.com/yanun0323/errors"

	"hft/pkg/exception"
)

const (
	network = "unix"
	scheme  = "unix:"
)

var ErrPathNotSocket = errors.New("uds: path exists and is not a socket")

// Path reports whether addr names a socket ("unix:/run/hft.sock") and returns its path.
func Path(addr string) (string, bool) {
	if !strings.HasPrefix(addr, scheme) {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(addr, scheme), "//"), true
}

// Listen listens on path, replacing a stale socket file left by a previous
// process. The file is unlinked when the listener closes.
func Listen(path string) (*net.UnixListener, error) {
	if path == "" {
		return nil, yerrors.Wrap(exception.ErrConfigMissing, "uds: socket path")
	}
	if err := removeStale(path); err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix(network, &net.UnixAddr{Name: path, Net: network})
	if err != nil {
		return nil, yerrors.Wrapf(err, "uds: listen %s", path)
	}
	ln.SetUnlinkOnClose(true)
	return ln, nil
}

// Dialer returns a DialContext func that ignores its address and always
// connects to path. It plugs into http.Transport.
func Dialer(path string) func(ctx context.Context, _, _ string) (net.Conn, error) {
	var d net.Dialer
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		return d.DialContext(ctx, network, path)
	}
}

func removeStale(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return yerrors.Wrapf(err, "uds: stat %s", path)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return yerrors.Wrap(ErrPathNotSocket, path)
	}
	return os.Remove(path)
}
