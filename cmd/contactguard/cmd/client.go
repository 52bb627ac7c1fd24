package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/seymr/contactguard/internal/domain/ratelimit"
)

var (
	clientAddr   string
	clientToken  string
	clientOutput string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Inspect, ban, unban or reset a client",
	Long: `Operate on a single client through the admin API of a running server.

The server address defaults to server.http_addr from the config. Requests
from localhost need no token; remote servers require --token (or
CONTACTGUARD_ADMIN_TOKEN) matching admin.token_hash.

Examples:
  contactguard client inspect 1.2.3.4
  contactguard client ban 1.2.3.4
  contactguard client unban 1.2.3.4
  contactguard client reset 1.2.3.4 --output json
  contactguard client inspect 1.2.3.4 --addr https://guard.example.com --token "$ADMIN_TOKEN"`,
}

func init() {
	clientCmd.PersistentFlags().StringVar(&clientAddr, "addr", "", "server base URL (default: derived from server.http_addr)")
	clientCmd.PersistentFlags().StringVar(&clientToken, "token", "", "admin bearer token (default: $CONTACTGUARD_ADMIN_TOKEN)")
	clientCmd.PersistentFlags().StringVarP(&clientOutput, "output", "o", "yaml", "output format: yaml or json")

	for _, action := range []struct {
		use, short string
	}{
		{"inspect", "Show a client's counter, suspicion and ban state"},
		{"ban", "Ban a client for the configured ban duration"},
		{"unban", "Lift a client's ban"},
		{"reset", "Clear a client's counter and suspicion flag"},
	} {
		name := action.use
		clientCmd.AddCommand(&cobra.Command{
			Use:   name + " <client-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ac := newAdminClient(resolveAdminAddr(clientAddr), resolveAdminToken(clientToken))
				return runClientAction(cmd.Context(), ac, name, args[0], clientOutput, cmd.OutOrStdout())
			},
		})
	}
	rootCmd.AddCommand(clientCmd)
}

// adminClient calls the admin API of a running server.
type adminClient struct {
	base   string
	token  string
	client *http.Client
}

func newAdminClient(base, token string) *adminClient {
	return &adminClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends a request and decodes a JSON response into out. Non-2xx
// responses become errors carrying the server's error message.
func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("admin API unreachable at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("admin API %s %s: %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("admin API %s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// clientView is the printable form of a client snapshot.
type clientView struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	State        string `json:"state" yaml:"state"`
	RequestCount int64  `json:"request_count" yaml:"request_count"`
	Suspicious   bool   `json:"suspicious" yaml:"suspicious"`
	Banned       bool   `json:"banned" yaml:"banned"`
	ResetIn      string `json:"reset_in,omitempty" yaml:"reset_in,omitempty"`
	BanResetIn   string `json:"ban_reset_in,omitempty" yaml:"ban_reset_in,omitempty"`
}

func newClientView(s ratelimit.Snapshot) clientView {
	v := clientView{
		ClientID:     s.ClientID,
		State:        string(s.State),
		RequestCount: s.RequestCount,
		Suspicious:   s.Suspicious,
		Banned:       s.Banned,
	}
	if s.ResetIn > 0 {
		v.ResetIn = s.ResetIn.Round(time.Second).String()
	}
	if s.BanResetIn > 0 {
		v.BanResetIn = s.BanResetIn.Round(time.Second).String()
	}
	return v
}

// actionResult is the admin API response for ban, unban and reset.
type actionResult struct {
	ClientID string `json:"client_id" yaml:"client_id"`
	Action   string `json:"action" yaml:"action"`
	Success  bool   `json:"success" yaml:"success"`
}

// runClientAction performs action on clientID and prints the result.
func runClientAction(ctx context.Context, c *adminClient, action, clientID, format string, w io.Writer) error {
	if format != "yaml" && format != "json" {
		return fmt.Errorf("unsupported output format %q (want yaml or json)", format)
	}
	path := "/admin/api/clients/" + url.PathEscape(clientID)

	var result any
	switch action {
	case "inspect":
		var snap ratelimit.Snapshot
		if err := c.do(ctx, http.MethodGet, path, &snap); err != nil {
			return err
		}
		result = newClientView(snap)
	case "ban", "unban", "reset":
		method, suffix := http.MethodPut, "/ban"
		switch action {
		case "unban":
			method = http.MethodDelete
		case "reset":
			method, suffix = http.MethodPost, "/reset"
		}
		var res actionResult
		if err := c.do(ctx, method, path+suffix, &res); err != nil {
			return err
		}
		result = res
	default:
		return fmt.Errorf("unknown client action %q", action)
	}

	return printResult(w, format, result)
}

func printResult(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// resolveAdminAddr picks the flag value, then server.http_addr from config.
func resolveAdminAddr(flag string) string {
	if flag != "" {
		return flag
	}
	addr := viper.GetString("server.http_addr")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return baseURLFor(addr)
}

func resolveAdminToken(flag string) string {
	if flag != "" {
		return flag
	}
	return viper.GetString("admin_token")
}

// baseURLFor turns a listen address into a URL a local client can dial.
// Wildcard hosts are replaced by the loopback address.
func baseURLFor(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	switch {
	case strings.HasPrefix(addr, ":"):
		addr = "127.0.0.1" + addr
	case strings.HasPrefix(addr, "0.0.0.0:"):
		addr = "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	case strings.HasPrefix(addr, "[::]:"):
		addr = "[::1]" + strings.TrimPrefix(addr, "[::]")
	}
	return "http://" + addr
}
