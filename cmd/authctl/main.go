// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL      string
	output      string
	timeout     time.Duration
	accessToken string
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "authctl",
		Short: "mirel platform auth CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("AUTHCTL_API_URL")
			}
			if accessToken == "" {
				accessToken = os.Getenv("AUTHCTL_TOKEN")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set AUTHCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&accessToken, "token", "", "Bearer token for authenticated commands (or set AUTHCTL_TOKEN)")

	// サブコマンド登録
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authctl version %s\n", version)
		},
	}
}

// loginCmd はデバイス認可グラントによるログインコマンド。
// デバイスコードを取得し、ユーザーがブラウザで承認するまでポーリングする。
func loginCmd() *cobra.Command {
	var clientID string
	var scope string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in via the device authorization flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set AUTHCTL_API_URL)")
			}

			reqBody, _ := json.Marshal(map[string]string{
				"client_id": clientID,
				"scope":     scope,
			})
			resp, err := httpClient.Post(apiURL+"/v1/oauth/device/code", "application/json", bytes.NewReader(reqBody))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			var grant struct {
				DeviceCode      string `json:"device_code"`
				UserCode        string `json:"user_code"`
				VerificationURI string `json:"verification_uri"`
				ExpiresIn       int64  `json:"expires_in"`
				Interval        int64  `json:"interval"`
			}
			if err := json.Unmarshal(body, &grant); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			fmt.Printf("Open %s and enter the code: %s\n", grant.VerificationURI, grant.UserCode)
			fmt.Println("Waiting for approval...")

			return pollForToken(grant.DeviceCode, clientID, grant.Interval, grant.ExpiresIn)
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "mirel-cli", "OAuth client ID")
	cmd.Flags().StringVar(&scope, "scope", "", "Requested scope")
	return cmd
}

// pollForToken は承認が下りるまでトークンエンドポイントをポーリングする。
// slow_downを受けたら間隔を広げ、終端状態で終了する。
func pollForToken(deviceCode, clientID string, interval, expiresIn int64) error {
	wait := time.Duration(interval) * time.Second
	deadline := time.Now().Add(time.Duration(expiresIn) * time.Second)

	for time.Now().Before(deadline) {
		time.Sleep(wait)

		reqBody, _ := json.Marshal(map[string]string{
			"device_code": deviceCode,
			"client_id":   clientID,
		})
		resp, err := httpClient.Post(apiURL+"/v1/oauth/device/token", "application/json", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("API request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var token struct {
				AccessToken string `json:"access_token"`
				UserName    string `json:"user_name"`
			}
			if err := json.Unmarshal(body, &token); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Logged in as %s\n", token.UserName)
			fmt.Println(token.AccessToken)
			return nil
		}

		var errResp struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(body, &errResp)

		switch errResp.Code {
		case "authorization_pending":
			continue
		case "slow_down":
			wait += time.Second
			continue
		case "access_denied":
			return fmt.Errorf("authorization was denied")
		case "expired_token":
			return fmt.Errorf("device code expired before approval")
		default:
			return handleErrorResponse(resp.StatusCode, body)
		}
	}
	return fmt.Errorf("device code expired before approval")
}

// keyCmd は署名鍵の管理コマンド群。
func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage token signing keys",
	}
	cmd.AddCommand(keyListCmd())
	cmd.AddCommand(keyRotateCmd())
	return cmd
}

// keyListCmd は鍵一覧の取得コマンド。
func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set AUTHCTL_API_URL)")
			}
			if accessToken == "" {
				return fmt.Errorf("--token is required (or set AUTHCTL_TOKEN)")
			}

			req, err := http.NewRequest(http.MethodGet, apiURL+"/v1/keys", nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+accessToken)

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result struct {
					Keys []struct {
						KeyID       string `json:"key_id"`
						Status      string `json:"status"`
						ActivatedAt string `json:"activated_at"`
						RetiredAt   string `json:"retired_at"`
					} `json:"keys"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}

				fmt.Printf("%-38s %-10s %-22s %s\n", "KEY_ID", "STATUS", "ACTIVATED_AT", "RETIRED_AT")
				for _, k := range result.Keys {
					fmt.Printf("%-38s %-10s %-22s %s\n", k.KeyID, k.Status, k.ActivatedAt, k.RetiredAt)
				}
			}
			return nil
		},
	}
	return cmd
}

// keyRotateCmd は即時ローテーションの実行コマンド。
func keyRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Force an immediate signing key rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set AUTHCTL_API_URL)")
			}
			if accessToken == "" {
				return fmt.Errorf("--token is required (or set AUTHCTL_TOKEN)")
			}

			req, err := http.NewRequest(http.MethodPost, apiURL+"/v1/keys/rotate", nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+accessToken)

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusAccepted {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Println("Rotated signing key")
			}
			return nil
		},
	}
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
