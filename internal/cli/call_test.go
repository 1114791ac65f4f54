package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/thingengine/internal/control"
	"github.com/roach88/thingengine/internal/dispatch"
	"github.com/roach88/thingengine/internal/protocol"
	"github.com/roach88/thingengine/internal/testutil"
)

// fakeEngine serves a small dispatch table on a real socket.
type fakeEngine struct {
	socket  string
	stopped chan struct{}
	release chan struct{}
}

func startFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	f := &fakeEngine{
		socket:  testutil.SocketPath(t),
		stopped: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	table := dispatch.NewTable(map[string]dispatch.Handler{
		protocol.MethodFoo: dispatch.Func(func(_ context.Context, call protocol.Call) (any, error) {
			return call.(protocol.Foo).Value, nil
		}),
		protocol.MethodStop: dispatch.Func(func(context.Context, protocol.Call) (any, error) {
			f.stopped <- struct{}{}
			return nil, nil
		}),
		protocol.MethodRemoveDevice: dispatch.Func(func(_ context.Context, call protocol.Call) (any, error) {
			id := call.(protocol.RemoveDevice).DeviceID
			if id == "lamp-1" {
				return nil, nil
			}
			return nil, fmt.Errorf("device not found: %s", id)
		}),
		protocol.MethodCreateFeedWithContact: dispatch.Func(func(_ context.Context, call protocol.Call) (any, error) {
			<-f.release
			return "feed-1", nil
		}),
	})

	ch := control.New(f.socket, table)
	require.NoError(t, ch.Open(context.Background()))
	t.Cleanup(func() {
		close(f.release)
		ch.Close()
	})
	return f
}

func runCall(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCallCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCallArgs(t *testing.T) {
	args := callArgs([]string{"42", "lamp-1", `{"code":"x"}`, "null", "true"})
	require.Len(t, args, 5)
	assert.Equal(t, json.RawMessage("42"), args[0])
	assert.Equal(t, "lamp-1", args[1])
	assert.Equal(t, json.RawMessage(`{"code":"x"}`), args[2])
	assert.Equal(t, json.RawMessage("null"), args[3])
	assert.Equal(t, json.RawMessage("true"), args[4])
}

func TestCallTextReply(t *testing.T) {
	f := startFakeEngine(t)

	out, err := runCall(t, "text", "--socket", f.socket, "foo", "42")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestCallJSONReply(t *testing.T) {
	f := startFakeEngine(t)

	out, err := runCall(t, "json", "--socket", f.socket, "foo", "1.5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":1.5}`, out)
}

func TestCallEmptyReply(t *testing.T) {
	t.Run("text prints nothing", func(t *testing.T) {
		f := startFakeEngine(t)
		out, err := runCall(t, "text", "--socket", f.socket, "removeDevice", "lamp-1")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("json prints ok", func(t *testing.T) {
		f := startFakeEngine(t)
		out, err := runCall(t, "json", "--socket", f.socket, "removeDevice", "lamp-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, out)
	})
}

func TestCallRemoteFailure(t *testing.T) {
	f := startFakeEngine(t)

	out, err := runCall(t, "json", "--socket", f.socket, "removeDevice", "dev9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRemote, resp.Error.Code)
	assert.Equal(t, "device not found: dev9", resp.Error.Message)
}

func TestCallArgumentError(t *testing.T) {
	f := startFakeEngine(t)

	out, err := runCall(t, "text", "--socket", f.socket, "foo", "not-a-number")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
}

func TestCallTimeout(t *testing.T) {
	f := startFakeEngine(t)

	out, err := runCall(t, "text", "--socket", f.socket, "--timeout", "100ms",
		"createOmletFeedWithContact", "alice@example.com")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E102]")
	assert.Contains(t, out, "no reply before timeout")
}

func TestCallNoReply(t *testing.T) {
	f := startFakeEngine(t)

	out, err := runCall(t, "text", "--socket", f.socket, "--no-reply", "stop")
	require.NoError(t, err)
	assert.Empty(t, out)

	select {
	case <-f.stopped:
	case <-time.After(testutil.DefaultTimeout):
		t.Fatal("stop request never reached the engine")
	}
}

func TestCallUnreachableSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "nobody-home")

	out, err := runCall(t, "text", "--socket", socket, "foo", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
}

func TestCallMissingSocket(t *testing.T) {
	out, err := runCall(t, "text", "foo", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "one of --socket or --config is required")
}

func TestCallUnknownEncoding(t *testing.T) {
	out, err := runCall(t, "text", "--socket", "/tmp/x", "--encoding", "klingon", "foo", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
}

func TestCallSocketFromConfig(t *testing.T) {
	f := startFakeEngine(t)

	cfgPath := filepath.Join(t.TempDir(), "thingengine.yaml")
	body := fmt.Sprintf("data_dir: %s\ncontrol_path: %s\n", t.TempDir(), f.socket)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	out, err := runCall(t, "text", "--config", cfgPath, "foo", "3")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}
