package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/spf13/cobra"
)

var ErrNotAuthenticated = errors.New("not authenticated")

var httpClient = &http.Client{Timeout: 10 * time.Second}

// LoginCmd logs in and prints the session token
var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print a session token",
	RunE:  runLogin,
}

type credentials struct {
	Token  string
	UserID string
}

func runLogin(cmd *cobra.Command, args []string) error {
	creds, err := authenticate(cmd.Context(), config)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user id: %s\ntoken:   %s\n", creds.UserID, creds.Token)
	return nil
}

// authenticate prefers a stored token and falls back to a password login
func authenticate(ctx context.Context, conf *CLIConfig) (credentials, error) {
	if conf.Token != "" {
		userID, err := middleware.PeekUserID(conf.Token)
		if err != nil {
			return credentials{}, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
		}
		return credentials{Token: conf.Token, UserID: userID}, nil
	}
	if conf.Username == "" || conf.Password == "" {
		return credentials{}, fmt.Errorf("%w: pass --token or --username and --password", ErrNotAuthenticated)
	}
	return login(ctx, conf.Server, conf.Username, conf.Password)
}

func login(ctx context.Context, server, username, password string) (credentials, error) {
	body, err := json.Marshal(models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return credentials{}, err
	}

	endpoint := strings.TrimSuffix(server, "/") + "/api/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return credentials{}, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return credentials{}, fmt.Errorf("%w: login returned %s", ErrNotAuthenticated, resp.Status)
	}

	var out models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return credentials{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	if out.Token == "" || out.UserID == "" {
		return credentials{}, fmt.Errorf("%w: empty login response", ErrNotAuthenticated)
	}
	return credentials{Token: out.Token, UserID: out.UserID}, nil
}
