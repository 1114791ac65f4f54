// Package testutil holds helpers shared by tests that talk to a real
// control socket.
package testutil

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking read in Peer.
const DefaultTimeout = 2 * time.Second

// SocketPath returns a socket path inside a fresh temporary directory that
// is removed when the test ends.
//
// t.TempDir paths can exceed the sun_path limit (104 bytes on darwin), so
// a short directory under os.TempDir is used instead.
func SocketPath(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "te")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "control")
}

// Peer is a raw line-oriented connection to a control socket. It lets
// tests send arbitrary bytes, including malformed messages.
type Peer struct {
	t    testing.TB
	conn net.Conn
	r    *bufio.Reader
}

// DialPeer connects to the socket at path. The connection is closed when
// the test ends.
func DialPeer(t testing.TB, path string) *Peer {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, DefaultTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &Peer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// Send writes line followed by a newline.
func (p *Peer) Send(line string) {
	p.t.Helper()
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(p.t, err)
}

// Recv reads one line and decodes it into a generic JSON map.
func (p *Peer) Recv() map[string]any {
	p.t.Helper()
	line := p.RecvLine()
	var msg map[string]any
	require.NoError(p.t, json.Unmarshal([]byte(line), &msg), "line: %s", line)
	return msg
}

// RecvLine reads one raw line without its terminator.
func (p *Peer) RecvLine() string {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	line, err := p.r.ReadString('\n')
	require.NoError(p.t, err, "waiting for a line")
	return line[:len(line)-1]
}

// ExpectSilence fails the test if anything arrives within d.
func (p *Peer) ExpectSilence(d time.Duration) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := p.r.ReadString('\n')
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	p.t.Fatalf("expected no message, got %q (err=%v)", line, err)
}

// ExpectClosed fails the test unless the remote end closes the connection.
func (p *Peer) ExpectClosed() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	_, err := p.r.ReadString('\n')
	require.Error(p.t, err)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		p.t.Fatal("connection was not closed by the remote end")
	}
	if !errors.Is(err, io.EOF) {
		// A reset is as good as an orderly close here.
		p.t.Logf("connection ended with %v", err)
	}
}

// Close closes the connection.
func (p *Peer) Close() {
	p.conn.Close()
}
