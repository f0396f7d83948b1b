package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshdurbin/strava-stats/internal/auth"
	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/service"
)

var forceReauth bool

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored Strava login",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize strava-stats with your Strava account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sqlDB, storage, err := openStorage(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		return ensureAuthenticated(ctx, storage, forceReauth)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete stored credentials and tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sqlDB, storage, err := openStorage(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if err := storage.DeleteTokens(ctx); err != nil {
			return fmt.Errorf("deleting tokens: %w", err)
		}
		fmt.Println("Logged out. Run 'strava-stats auth login' to authenticate again.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the logged in athlete and token expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sqlDB, storage, err := openStorage(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		sess, err := storage.Session(ctx)
		if errors.Is(err, auth.ErrRefreshFailed) {
			fmt.Println("Token refresh failed. Run 'strava-stats auth login' to sign in again.")
			return nil
		}
		if errors.Is(err, service.ErrNoSession) {
			fmt.Println("Not logged in.")
			return nil
		}
		if err != nil {
			return err
		}
		expires, err := storage.ExpiresAt(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as athlete %d. Token expires %s.\n", sess.AthleteID, expires.Format(time.RFC1123))
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&forceReauth, "force", false, "clear existing credentials and tokens and re-authenticate")
	authCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}

// ensureAuthenticated checks for a usable session, and if there is none, runs the OAuth flow
func ensureAuthenticated(ctx context.Context, storage *auth.Storage, force bool) error {
	log := logging.Logger

	// If force reauth is requested, clear existing tokens and credentials, then re-prompt
	if force {
		log.Info().Msg("force re-authentication requested, clearing existing credentials and tokens")
		if err := storage.DeleteTokens(ctx); err != nil {
			log.Debug().Err(err).Msg("failed to delete existing auth config (may not exist)")
		}
	}

	// Check if we have credentials in the database
	clientConfig, err := storage.LoadClientConfig(ctx)
	if err != nil {
		clientConfig, err = promptForCredentials(os.Stdin)
		if err != nil {
			return fmt.Errorf("getting credentials: %w", err)
		}
		if err := storage.SaveClientConfig(ctx, clientConfig.ClientID, clientConfig.ClientSecret); err != nil {
			return fmt.Errorf("saving credentials: %w", err)
		}
	}

	if !force {
		sess, err := storage.Session(ctx)
		if err == nil {
			log.Info().Int64("athlete_id", sess.AthleteID).Msg("using existing authentication")
			return nil
		}

		switch {
		case errors.Is(err, auth.ErrRefreshFailed):
			log.Warn().Err(err).Msg("token refresh failed, re-authentication required")
			fmt.Println("\n=== Token Refresh Failed ===")
			fmt.Println("Your Strava authentication has expired or been revoked.")
			fmt.Println("Re-authentication is required.")
		case errors.Is(err, service.ErrNoSession):
			log.Info().Msg("no valid authentication found, starting OAuth flow")
		default:
			log.Warn().Err(err).Msg("could not load session, re-authentication required")
		}
	}

	return runOAuthFlow(ctx, storage, clientConfig)
}

// promptForCredentials asks for the Strava API application credentials
func promptForCredentials(in io.Reader) (*auth.ClientConfig, error) {
	reader := bufio.NewReader(in)

	fmt.Println("\n=== Strava API Credentials Required ===")
	fmt.Println("Get your API credentials from: https://www.strava.com/settings/api")
	fmt.Println()

	fmt.Print("Enter your Client ID: ")
	clientID, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading client ID: %w", err)
	}
	clientID = strings.TrimSpace(clientID)

	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	fmt.Print("Enter your Client Secret: ")
	clientSecret, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading client secret: %w", err)
	}
	clientSecret = strings.TrimSpace(clientSecret)

	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	return &auth.ClientConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

// runOAuthFlow performs the OAuth authentication flow with Strava
func runOAuthFlow(ctx context.Context, storage *auth.Storage, clientConfig *auth.ClientConfig) error {
	log := logging.Logger

	fmt.Println("\n=== Strava Authentication Required ===")
	fmt.Println("A browser window will open for you to authorize this application.")
	fmt.Println("Press Enter to continue...")

	reader := bufio.NewReader(os.Stdin)
	reader.ReadString('\n')

	tokens, err := auth.Authenticate(ctx, clientConfig.ClientID, clientConfig.ClientSecret)
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	log.Info().
		Str("expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
		Int64("athlete_id", tokens.AthleteID).
		Msg("OAuth authentication successful")

	// Save tokens with client config
	if err := storage.SaveFullConfig(ctx, clientConfig.ClientID, clientConfig.ClientSecret, tokens); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}

	fmt.Printf("\nAuthentication successful! Token expires: %s\n\n",
		time.Unix(tokens.ExpiresAt, 0).Format(time.RFC1123))
	return nil
}
