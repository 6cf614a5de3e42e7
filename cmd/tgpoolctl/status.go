package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

// newStatusCmd queries a running server's /admin/status endpoint, grounded on
// the teacher's RAGClient (internal/services/rag_client.go): a resty.Client
// with a fixed base URL, retries, and a request timeout.
func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		token     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running server's pool status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, serverURL, token)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the running tgpool API server")
	cmd.Flags().StringVar(&token, "token", "", "admin bearer token (see 'tgpoolctl token issue')")
	cmd.MarkFlagRequired("token")
	return cmd
}

func runStatus(cmd *cobra.Command, serverURL, token string) error {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetBaseURL(serverURL)
	client.SetHeader("Authorization", "Bearer "+token)

	resp, err := client.R().Get("/admin/status")
	if err != nil {
		return fmt.Errorf("request status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("status request failed: %s: %s", resp.Status(), resp.String())
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &pretty); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), resp.String())
		return nil
	}
	encoded, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
