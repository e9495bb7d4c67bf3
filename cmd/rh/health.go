package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var (
		flags configFlags
		url   string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that both model providers are configured",
		Long: `Without --url, checks the local configuration for API keys.
With --url, queries the /api/health endpoint of a running server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url != "" {
				return runRemoteHealth(cmd, url)
			}
			return runLocalHealth(cmd, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&url, "url", "", "base URL of a running Roundhouse server")
	return cmd
}

func runLocalHealth(cmd *cobra.Command, flags configFlags) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "openai:   %s\n", keyState(cfg.Gateway.OpenAI.APIKey, cfg.Gateway.OpenAI.APIKeyEnv))
	fmt.Fprintf(out, "deepseek: %s\n", keyState(cfg.Gateway.DeepSeek.APIKey, cfg.Gateway.DeepSeek.APIKeyEnv))
	fmt.Fprintf(out, "store:    %s\n", cfg.Store.Driver)

	if missing := missingKeys(cfg.Gateway); len(missing) > 0 {
		return fmt.Errorf("missing_config: %s not set", strings.Join(missing, ", "))
	}
	fmt.Fprintln(out, "healthy")
	return nil
}

func keyState(key, env string) string {
	if key == "" {
		return "missing (" + env + ")"
	}
	return "configured"
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	APIs    struct {
		OpenAI   bool `json:"openai"`
		DeepSeek bool `json:"deepseek"`
	} `json:"apis"`
}

func runRemoteHealth(cmd *cobra.Command, baseURL string) error {
	out := cmd.OutOrStdout()
	client := resty.New().SetTimeout(10 * time.Second)
	resp, err := client.R().
		SetContext(cmd.Context()).
		SetHeader("Accept", "application/json").
		Get(strings.TrimSuffix(baseURL, "/") + "/api/health")
	if err != nil {
		return fmt.Errorf("query %s: %w", baseURL, err)
	}

	var h healthResponse
	if err := json.Unmarshal(resp.Body(), &h); err != nil {
		return fmt.Errorf("decode health response (HTTP %d): %w", resp.StatusCode(), err)
	}
	fmt.Fprintf(out, "openai:   %v\n", h.APIs.OpenAI)
	fmt.Fprintf(out, "deepseek: %v\n", h.APIs.DeepSeek)
	fmt.Fprintf(out, "%s (HTTP %d)\n", h.Status, resp.StatusCode())
	if h.Status != "healthy" {
		return fmt.Errorf("%s: %s", h.Status, h.Message)
	}
	return nil
}
