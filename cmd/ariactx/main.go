// Package main provides the ariactx binary: the context client operation
// subprocesses use to call back into the parent's operation context through
// the ctx proxy endpoint.
//
// Arguments form a command path evaluated by the parent, for example:
//
//	ariactx node attributes get port
//	ariactx node attributes set port @8080
//	ariactx logger info "configuring node"
//
// Arguments prefixed with "@" are decoded as JSON so non-string values keep
// their types on the wire.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apache/incubator-ariatosca-sub004/execution/ctxproxy"
)

const jsonArgPrefix = "@"

func main() {
	if err := rootCmd().Execute(); err != nil {
		if errors.Is(err, ctxproxy.ErrStopOperation) {
			fmt.Fprintln(os.Stderr, "operation stopped by parent")
			os.Exit(3)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		socketURL  string
		timeout    time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:          "ariactx <command>...",
		Short:        "Operation context client for subprocess operations",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctxproxy.NewClient(socketURL, timeout)
			if err != nil {
				return err
			}

			callArgs, err := decodeArgs(args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			payload, err := client.Call(ctx, callArgs...)
			if err != nil {
				return err
			}
			return printPayload(payload, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&socketURL, "socket-url", "",
		fmt.Sprintf("Ctx proxy URL (default: $%s)", ctxproxy.EnvSocketURL))
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&jsonOutput, "json-output", false, "Print the payload as JSON")

	return cmd
}

// decodeArgs converts CLI arguments to wire arguments, decoding the
// "@"-prefixed ones as JSON.
func decodeArgs(args []string) ([]any, error) {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, jsonArgPrefix) {
			out = append(out, arg)
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(arg[len(jsonArgPrefix):]), &decoded); err != nil {
			return nil, fmt.Errorf("decode JSON argument %q: %w", arg, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

func printPayload(payload any, jsonOutput bool) error {
	if payload == nil {
		return nil
	}
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		return encoder.Encode(payload)
	}
	switch v := payload.(type) {
	case string:
		fmt.Println(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	}
	return nil
}
