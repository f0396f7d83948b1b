package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joshdurbin/strava-stats/internal/db"
	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/service"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

// ErrNotConfigured means no client credentials have been stored yet
var ErrNotConfigured = errors.New("client not configured: run 'strava-stats auth login' first")

// ErrRefreshFailed means Strava rejected the stored refresh token. It also
// matches service.ErrNoSession since only a new login can recover.
var ErrRefreshFailed = errors.New("token refresh failed")

// AthleteLookup resolves the athlete that owns an access token
type AthleteLookup func(ctx context.Context, accessToken string) (int64, error)

func lookupAthlete(ctx context.Context, accessToken string) (int64, error) {
	athlete, err := strava.NewClient(accessToken).GetAthlete(ctx)
	if err != nil {
		return 0, err
	}
	return athlete.ID, nil
}

// Storage persists credentials and tokens in SQLite and hands out sessions
type Storage struct {
	queries *db.Queries
	refresh RefreshFunc
	athlete AthleteLookup
	now     func() time.Time

	// serializes refreshes so concurrent requests don't spend the same refresh token twice
	mu sync.Mutex
}

// NewStorage creates a new Storage instance
func NewStorage(queries *db.Queries) *Storage {
	return &Storage{
		queries: queries,
		refresh: RefreshAccessToken,
		athlete: lookupAthlete,
		now:     time.Now,
	}
}

// WithRefresher overrides the token refresh call (useful for testing)
func (s *Storage) WithRefresher(fn RefreshFunc) *Storage {
	s.refresh = fn
	return s
}

// WithAthleteLookup overrides how a missing athlete id is resolved
func (s *Storage) WithAthleteLookup(fn AthleteLookup) *Storage {
	s.athlete = fn
	return s
}

// WithClock overrides the time source (useful for testing)
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

// StoredTokens represents the tokens stored in the database
type StoredTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	AthleteID    int64
}

// ClientConfig represents the stored client credentials
type ClientConfig struct {
	ClientID     string
	ClientSecret string
}

// SaveTokens updates the tokens of an existing client config
func (s *Storage) SaveTokens(ctx context.Context, tokens *TokenResponse) error {
	if _, err := s.queries.GetAuthConfig(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotConfigured
		}
		return fmt.Errorf("checking existing config: %w", err)
	}

	if err := s.queries.UpdateTokens(ctx, db.UpdateTokensParams{
		AccessToken:  sql.NullString{String: tokens.AccessToken, Valid: true},
		RefreshToken: sql.NullString{String: tokens.RefreshToken, Valid: true},
		ExpiresAt:    sql.NullInt64{Int64: tokens.ExpiresAt, Valid: true},
	}); err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}

	if tokens.AthleteID > 0 {
		return s.queries.UpdateAthleteID(ctx, sql.NullInt64{Int64: tokens.AthleteID, Valid: true})
	}
	return nil
}

// LoadTokens loads tokens from the database. It returns service.ErrNoSession
// when nobody has logged in.
func (s *Storage) LoadTokens(ctx context.Context) (*StoredTokens, error) {
	config, err := s.queries.GetAuthConfig(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNoSession
		}
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	if !config.AccessToken.Valid || config.AccessToken.String == "" {
		return nil, service.ErrNoSession
	}

	return &StoredTokens{
		AccessToken:  config.AccessToken.String,
		RefreshToken: config.RefreshToken.String,
		ExpiresAt:    config.ExpiresAt.Int64,
		AthleteID:    config.AthleteID.Int64,
	}, nil
}

// SaveClientConfig saves client credentials without tokens
func (s *Storage) SaveClientConfig(ctx context.Context, clientID, clientSecret string) error {
	return s.queries.SaveAuthConfig(ctx, db.SaveAuthConfigParams{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

// SaveFullConfig saves client credentials and tokens together
func (s *Storage) SaveFullConfig(ctx context.Context, clientID, clientSecret string, tokens *TokenResponse) error {
	return s.queries.SaveAuthConfig(ctx, db.SaveAuthConfigParams{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AccessToken:  sql.NullString{String: tokens.AccessToken, Valid: true},
		RefreshToken: sql.NullString{String: tokens.RefreshToken, Valid: true},
		ExpiresAt:    sql.NullInt64{Int64: tokens.ExpiresAt, Valid: true},
		AthleteID:    sql.NullInt64{Int64: tokens.AthleteID, Valid: tokens.AthleteID > 0},
	})
}

// LoadClientConfig loads client credentials from the database
func (s *Storage) LoadClientConfig(ctx context.Context) (*ClientConfig, error) {
	config, err := s.queries.GetAuthConfig(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	return &ClientConfig{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
	}, nil
}

// DeleteTokens removes the stored auth config from the database
func (s *Storage) DeleteTokens(ctx context.Context) error {
	return s.queries.DeleteAuthConfig(ctx)
}

// Refresh exchanges the stored refresh token for a new token set and saves it
func (s *Storage) Refresh(ctx context.Context) (*StoredTokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.LoadTokens(ctx)
	if err != nil {
		return nil, err
	}
	return s.refreshLocked(ctx, tokens)
}

func (s *Storage) refreshLocked(ctx context.Context, tokens *StoredTokens) (*StoredTokens, error) {
	config, err := s.LoadClientConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading client config for refresh: %w", err)
	}

	newTokens, err := s.refresh(ctx, config.ClientID, config.ClientSecret, tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", service.ErrNoSession, ErrRefreshFailed, err)
	}

	if err := s.SaveTokens(ctx, newTokens); err != nil {
		return nil, fmt.Errorf("saving refreshed tokens: %w", err)
	}

	logging.Info("access token refreshed", "expires_at", time.Unix(newTokens.ExpiresAt, 0).Format(time.RFC3339))

	athleteID := tokens.AthleteID
	if newTokens.AthleteID > 0 {
		athleteID = newTokens.AthleteID
	}
	return &StoredTokens{
		AccessToken:  newTokens.AccessToken,
		RefreshToken: newTokens.RefreshToken,
		ExpiresAt:    newTokens.ExpiresAt,
		AthleteID:    athleteID,
	}, nil
}

// GetValidAccessToken returns a valid access token, refreshing if necessary
func (s *Storage) GetValidAccessToken(ctx context.Context) (string, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// Session implements service.SessionProvider. Expired tokens are refreshed
// first; an unknown athlete id is looked up once and stored.
func (s *Storage) Session(ctx context.Context) (service.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.LoadTokens(ctx)
	if err != nil {
		return service.Session{}, err
	}

	if IsTokenExpired(tokens.ExpiresAt, s.now()) {
		if tokens, err = s.refreshLocked(ctx, tokens); err != nil {
			return service.Session{}, err
		}
	}

	if tokens.AthleteID == 0 {
		id, err := s.athlete(ctx, tokens.AccessToken)
		if err != nil {
			return service.Session{}, fmt.Errorf("resolving athlete: %w", err)
		}
		if err := s.queries.UpdateAthleteID(ctx, sql.NullInt64{Int64: id, Valid: true}); err != nil {
			return service.Session{}, fmt.Errorf("saving athlete id: %w", err)
		}
		tokens.AthleteID = id
	}

	return service.Session{AccessToken: tokens.AccessToken, AthleteID: tokens.AthleteID}, nil
}

// ExpiresAt reports when the stored access token expires
func (s *Storage) ExpiresAt(ctx context.Context) (time.Time, error) {
	tokens, err := s.LoadTokens(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(tokens.ExpiresAt, 0), nil
}
