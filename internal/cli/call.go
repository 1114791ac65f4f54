package cli

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/thingengine/internal/config"
	"github.com/roach88/thingengine/internal/control"
	"github.com/roach88/thingengine/internal/framer"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Socket     string
	ConfigPath string
	Encoding   string
	Timeout    time.Duration
	NoReply    bool
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <method> [arg...]",
		Short: "Send one request to a running engine",
		Long: `Send one request on the control channel and print the reply.

Each argument is sent as JSON when it parses as JSON and as a string
otherwise, so device ids need no quoting.

Example:
  thingengine call --socket ./data/control foo 42
  thingengine call --socket ./data/control removeDevice lamp-1
  thingengine call --config /etc/thingengine.yaml addApp '{"code":"now => notify;"}' phone
  thingengine call --socket ./data/control --no-reply stop`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return callMethod(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Socket, "socket", "s", "", "control socket path")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "read the socket path and encoding from this config file")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "", "wire text encoding (default utf-8)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long to wait for the reply")
	cmd.Flags().BoolVar(&opts.NoReply, "no-reply", false, "send without an id and do not wait")
	cmd.MarkFlagsMutuallyExclusive("socket", "config")

	return cmd
}

// callArgs converts command-line words to request arguments.
func callArgs(words []string) []any {
	args := make([]any, len(words))
	for i, w := range words {
		if json.Valid([]byte(w)) {
			args[i] = json.RawMessage(w)
		} else {
			args[i] = w
		}
	}
	return args
}

func (opts *CallOptions) resolve() (socket, encodingName string, err error) {
	socket, encodingName = opts.Socket, opts.Encoding
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return "", "", err
		}
		socket = cfg.ControlPath
		if encodingName == "" {
			encodingName = cfg.Encoding
		}
	}
	if socket == "" {
		return "", "", errors.New("one of --socket or --config is required")
	}
	return socket, encodingName, nil
}

func callMethod(opts *CallOptions, method string, words []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	socket, encName, err := opts.resolve()
	if err != nil {
		return formatter.Fail(ErrCodeConfig, ExitCommandError, err.Error(), nil)
	}
	enc, err := framer.LookupEncoding(encName)
	if err != nil {
		return formatter.Fail(ErrCodeArgs, ExitCommandError, err.Error(), nil)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(parentCtx, opts.Timeout)
	defer cancel()

	formatter.VerboseLog("Connecting to %s", socket)
	client, err := control.Dial(ctx, socket, control.WithClientEncoding(enc))
	if err != nil {
		return formatter.Fail(ErrCodeConnect, ExitCommandError, "control socket unreachable", err.Error())
	}
	defer client.Close()

	args := callArgs(words)
	if opts.NoReply {
		if err := client.Notify(method, args...); err != nil {
			return formatter.Fail(ErrCodeGeneric, ExitFailure, err.Error(), nil)
		}
		formatter.VerboseLog("Sent %s without id", method)
		return nil
	}

	formatter.VerboseLog("Calling %s with %d argument(s)", method, len(args))
	reply, err := client.Call(ctx, method, args...)
	if err != nil {
		var remote *control.RemoteError
		switch {
		case errors.As(err, &remote):
			return formatter.Fail(ErrCodeRemote, ExitFailure, remote.Message, map[string]string{"method": method})
		case errors.Is(err, context.DeadlineExceeded):
			return formatter.Fail(ErrCodeTimeout, ExitFailure, "no reply before timeout", opts.Timeout.String())
		case errors.Is(err, control.ErrClientClosed):
			return formatter.Fail(ErrCodeClosed, ExitFailure, "connection closed before reply", err.Error())
		default:
			return formatter.Fail(ErrCodeGeneric, ExitFailure, err.Error(), nil)
		}
	}

	if len(reply) == 0 {
		if formatter.Format == "json" {
			return formatter.Success(nil)
		}
		formatter.VerboseLog("%s succeeded with no payload", method)
		return nil
	}
	return formatter.Success(reply)
}
