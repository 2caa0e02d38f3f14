package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parvum/devlink/internal/client"
	"github.com/parvum/devlink/internal/protocol"
)

var (
	callTimeout time.Duration
	callToken   string
)

var callCmd = &cobra.Command{
	Use:   "call <command> [payload-json]",
	Short: "Send one request to the Primary window and print the response",
	Long: `Call connects to whichever window process holds the shared port
range, sends a single request and prints the response payload as JSON.

Examples:
  devlink call ping
  devlink call search_workspace '{"query":"TODO"}'
  devlink call get_file_content '{"path":"main.go"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "Request timeout (defaults to client.request_timeout from the config)")
	callCmd.Flags().StringVar(&callToken, "token", "", "Auth token (defaults to server.auth_token from the config)")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	command := args[0]
	var payload json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("payload is not valid JSON: %s", args[1])
		}
		payload = json.RawMessage(args[1])
	}

	timeout := callTimeout
	if timeout <= 0 {
		timeout = cfg.Client.RequestTimeout.Std()
	}

	sess := client.NewSession(
		client.Options{
			Ports:           cfg.Ports.Range(),
			ConnectAttempts: cfg.Client.ConnectAttempts,
			RetryDelay:      cfg.Client.RetryDelay.Std(),
			DialTimeout:     cfg.Client.DialTimeout.Std(),
		},
		client.RouterOptions{Timeout: timeout},
	)
	defer sess.Close()

	ctx := cmd.Context()

	token := callToken
	if token == "" {
		token = cfg.Server.AuthToken
	}
	if token != "" {
		if _, err := sess.Call(ctx, protocol.CmdAuth, protocol.AuthPayload{Token: token}); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	resp, err := sess.Call(ctx, command, payload)
	if err != nil {
		return err
	}
	return printPayload(resp)
}

func printPayload(resp protocol.Message) error {
	if len(resp.Payload) == 0 {
		fmt.Println("{}")
		return nil
	}
	out := json.RawMessage(resp.Payload)
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(pretty))
	return nil
}
