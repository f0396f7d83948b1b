package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/joshdurbin/strava-stats/internal/logging"
)

const (
	authURL      = "https://www.strava.com/oauth/authorize"
	tokenURL     = "https://www.strava.com/oauth/token"
	callbackAddr = "localhost:8089"
	redirectURI  = "http://" + callbackAddr + "/callback"
	scopes       = "activity:read_all"

	// ExpiryMargin is how early a token counts as expired
	ExpiryMargin = 5 * time.Minute

	authTimeout = 5 * time.Minute
)

// StravaOAuthConfig returns an OAuth2 config for Strava
func StravaOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{scopes},
	}
}

// TokenResponse is the token set persisted between runs
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
	// AthleteID is only present on the initial code exchange
	AthleteID int64 `json:"-"`
}

// TokenFromOAuth2 converts an oauth2.Token, picking the athlete out of the
// extra fields Strava returns with the code exchange
func TokenFromOAuth2(token *oauth2.Token) *TokenResponse {
	t := &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
		TokenType:    token.TokenType,
	}
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			t.AthleteID = int64(id)
		}
	}
	return t
}

// ToOAuth2Token converts our TokenResponse to an oauth2.Token
func (t *TokenResponse) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       time.Unix(t.ExpiresAt, 0),
		TokenType:    t.TokenType,
	}
}

// Authenticate runs the browser authorization flow and exchanges the code for tokens
func Authenticate(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	config := StravaOAuthConfig(clientID, clientSecret)
	state := uuid.NewString()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:              callbackAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errChan <- errors.New("authorization failed: state mismatch")
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			errMsg := r.URL.Query().Get("error")
			if errMsg == "" {
				errMsg = "no authorization code received"
			}
			http.Error(w, errMsg, http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed: %s", errMsg)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>`)
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	defer server.Shutdown(context.Background())

	url := config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))

	fmt.Println("Opening browser for Strava authorization...")
	fmt.Printf("If browser doesn't open, visit: %s\n\n", url)

	if err := browser.OpenURL(url); err != nil {
		logging.Warn("could not open browser", "error", err.Error())
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(authTimeout):
		return nil, errors.New("authorization timeout")
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	return TokenFromOAuth2(token), nil
}

// RefreshFunc exchanges a refresh token for a new token set
type RefreshFunc func(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error)

// RefreshAccessToken refreshes an access token against Strava's token endpoint
func RefreshAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	return refreshWithConfig(ctx, StravaOAuthConfig(clientID, clientSecret), refreshToken)
}

func refreshWithConfig(ctx context.Context, config *oauth2.Config, refreshToken string) (*TokenResponse, error) {
	// an already expired token forces the source to refresh
	oldToken := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	newToken, err := config.TokenSource(ctx, oldToken).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	return TokenFromOAuth2(newToken), nil
}

// IsTokenExpired reports whether the token expires within ExpiryMargin of now
func IsTokenExpired(expiresAt int64, now time.Time) bool {
	return now.Add(ExpiryMargin).Unix() > expiresAt
}
