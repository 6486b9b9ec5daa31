package main

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// tokenCmd はトークン関連のコマンド群。
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect access tokens",
	}
	cmd.AddCommand(tokenVerifyCmd())
	return cmd
}

// tokenVerifyCmd はサーバーのJWKSを取得してトークンをオフライン検証する。
// RS256のみ対応（HS256モードのトークンは共有シークレットが無いと検証できない）。
func tokenVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token against the server's JWKS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set AUTHCTL_API_URL)")
			}

			jwks, err := fetchJWKS()
			if err != nil {
				return err
			}

			claims := jwt.MapClaims{}
			_, err = jwt.ParseWithClaims(args[0], claims, func(tok *jwt.Token) (interface{}, error) {
				kid, _ := tok.Header["kid"].(string)
				if kid == "" {
					return nil, fmt.Errorf("token has no kid header")
				}
				key, ok := jwks[kid]
				if !ok {
					return nil, fmt.Errorf("kid %s not present in JWKS", kid)
				}
				return key, nil
			}, jwt.WithValidMethods([]string{"RS256"}))
			if err != nil {
				return fmt.Errorf("token is invalid: %w", err)
			}

			if output == "json" {
				encoded, err := json.Marshal(claims)
				if err != nil {
					return fmt.Errorf("encoding claims: %w", err)
				}
				fmt.Println(string(encoded))
				return nil
			}
			fmt.Println("Token is valid")
			for _, field := range []string{"sub", "iss", "client_id", "scope"} {
				if v, ok := claims[field]; ok {
					fmt.Printf("  %s: %v\n", field, v)
				}
			}
			return nil
		},
	}
	return cmd
}

// fetchJWKS はサーバーの公開鍵セットを取得してkid→RSA公開鍵のマップを返す。
func fetchJWKS() (map[string]*rsa.PublicKey, error) {
	resp, err := httpClient.Get(apiURL + "/.well-known/jwks.json")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decoding modulus for kid %s: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decoding exponent for kid %s: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	return keys, nil
}
