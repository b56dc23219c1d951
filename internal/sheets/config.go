package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const tokenURL = "https://oauth2.googleapis.com/token"

// Config identifies the spreadsheet and how to authenticate against it
type Config struct {
	SpreadsheetID string `toml:"spreadsheet_id"`
	Credentials   string `toml:"credentials"`
	AccessToken   string `toml:"access_token"`
	Endpoint      string `toml:"endpoint"`
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet_id is required")
	}
	return nil
}

// ClientOptions returns Sheets client options for cfg. Credentials are taken
// from, in order: GOOGLE_APPLICATION_CREDENTIALS, the configured credentials
// file, the configured access token, GOOGLE_OAUTH_ACCESS_TOKEN and
// GOOGLE_CREDENTIALS (a path or the JSON itself). Without any of them the
// client falls back to application default credentials.
func ClientOptions(ctx context.Context, cfg Config, getenv func(string) string) ([]option.ClientOption, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	if file := getenv("GOOGLE_APPLICATION_CREDENTIALS"); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	} else if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	} else if cfg.AccessToken != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
		})))
	} else if token := getenv("GOOGLE_OAUTH_ACCESS_TOKEN"); token != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
		})))
	} else if creds := getenv("GOOGLE_CREDENTIALS"); creds != "" {
		opt, err := serviceAccountOption(ctx, creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}

	return opts, nil
}

// serviceAccountOption builds a JWT client from a service account key given
// either as a file path or as the JSON content.
func serviceAccountOption(ctx context.Context, creds string) (option.ClientOption, error) {
	contents := []byte(creds)
	if !strings.HasPrefix(strings.TrimSpace(creds), "{") {
		data, err := os.ReadFile(creds)
		if err != nil {
			return nil, fmt.Errorf("read GOOGLE_CREDENTIALS: %w", err)
		}
		contents = data
	}

	var account struct {
		PrivateKeyID string `json:"private_key_id"`
		PrivateKey   string `json:"private_key"`
		ClientEmail  string `json:"client_email"`
	}
	if err := json.Unmarshal(contents, &account); err != nil {
		return nil, fmt.Errorf("parse GOOGLE_CREDENTIALS: %w", err)
	}
	if account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, fmt.Errorf("GOOGLE_CREDENTIALS is missing client_email or private_key")
	}

	conf := jwt.Config{
		Email:        account.ClientEmail,
		PrivateKey:   []byte(account.PrivateKey),
		PrivateKeyID: account.PrivateKeyID,
		Scopes:       []string{sheetsapi.SpreadsheetsScope},
		TokenURL:     tokenURL,
	}
	return option.WithHTTPClient(conf.Client(ctx)), nil
}
