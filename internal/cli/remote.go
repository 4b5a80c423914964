package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://localhost:8080"

type remoteOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type remoteAnswer struct {
	Answer  string `json:"answer"`
	Outcome string `json:"outcome"`
	SQL     string `json:"sql"`
}

func newRemoteCommand(rt *runtime) *cobra.Command {
	opts := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running askdb API",
	}
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", firstNonEmpty(rt.opts.Getenv("ASKDB_API_URL"), defaultAPIURL), "askdb API base URL")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", strings.TrimSpace(rt.opts.Getenv("ASKDB_API_KEY")), "API key for authenticated requests")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 60*time.Second, "HTTP timeout")

	get := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				body, err := rt.remoteCall(cmd.Context(), opts, http.MethodGet, path, nil)
				if err != nil {
					return err
				}
				writeBody(cmd.OutOrStdout(), body)
				return nil
			},
		}
	}
	cmd.AddCommand(get("health", "GET /v1/health", "/v1/health"))
	cmd.AddCommand(get("ready", "GET /v1/ready", "/v1/ready"))
	cmd.AddCommand(get("schema", "GET /v1/schema", "/v1/schema"))

	var asJSON, showSQL bool
	ask := &cobra.Command{
		Use:   "ask <question...>",
		Short: "POST /v1/answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"question": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			body, err := rt.remoteCall(cmd.Context(), opts, http.MethodPost, "/v1/answer", payload)
			if err != nil {
				return err
			}
			if asJSON {
				writeBody(cmd.OutOrStdout(), body)
				return nil
			}
			var answer remoteAnswer
			if err := json.Unmarshal(body, &answer); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			if showSQL && answer.SQL != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "SQL: %s\n", answer.SQL)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer.Answer)
			return nil
		},
	}
	ask.Flags().BoolVar(&asJSON, "json", false, "Print the full JSON response")
	ask.Flags().BoolVar(&showSQL, "show-sql", false, "Print the executed SQL before the answer")
	cmd.AddCommand(ask)
	return cmd
}

func (rt *runtime) remoteCall(ctx context.Context, opts *remoteOptions, method, path string, payload []byte) ([]byte, error) {
	client := rt.opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	endpoint := strings.TrimRight(opts.BaseURL, "/") + path
	code, body, err := doRequest(ctx, client, method, endpoint, opts.APIKey, payload)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if code >= 400 {
		return nil, fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func writeBody(w io.Writer, body []byte) {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(w, string(body))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
