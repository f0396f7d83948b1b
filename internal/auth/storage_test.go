package auth

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshdurbin/strava-stats/internal/db"
	"github.com/joshdurbin/strava-stats/internal/service"
)

var testNow = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

// setupTestDB creates a migrated SQLite database in a temp dir
func setupTestDB(t *testing.T) *db.Queries {
	t.Helper()

	sqlDB, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	return db.New(sqlDB)
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	return NewStorage(setupTestDB(t)).
		WithClock(func() time.Time { return testNow }).
		WithAthleteLookup(func(context.Context, string) (int64, error) {
			t.Error("unexpected athlete lookup")
			return 0, errors.New("unexpected")
		}).
		WithRefresher(func(context.Context, string, string, string) (*TokenResponse, error) {
			t.Error("unexpected refresh")
			return nil, errors.New("unexpected")
		})
}

func TestSaveAndLoadClientConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := newTestStorage(t)

	if _, err := storage.LoadClientConfig(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	if err := storage.SaveClientConfig(ctx, "test_client_id", "test_client_secret"); err != nil {
		t.Fatalf("failed to save client config: %v", err)
	}

	config, err := storage.LoadClientConfig(ctx)
	if err != nil {
		t.Fatalf("failed to load client config: %v", err)
	}
	if config.ClientID != "test_client_id" || config.ClientSecret != "test_client_secret" {
		t.Errorf("unexpected config %+v", config)
	}

	// credentials alone are not a session
	if _, err := storage.LoadTokens(ctx); !errors.Is(err, service.ErrNoSession) {
		t.Errorf("expected ErrNoSession without tokens, got %v", err)
	}
}

func TestSaveTokensWithoutClientConfig(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	err := storage.SaveTokens(context.Background(), &TokenResponse{AccessToken: "a", RefreshToken: "r"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSessionValidToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := newTestStorage(t)

	if _, err := storage.Session(ctx); !errors.Is(err, service.ErrNoSession) {
		t.Fatalf("expected ErrNoSession before login, got %v", err)
	}

	err := storage.SaveFullConfig(ctx, "id", "secret", &TokenResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(time.Hour).Unix(),
		AthleteID:    42,
	})
	if err != nil {
		t.Fatalf("SaveFullConfig() error: %v", err)
	}

	sess, err := storage.Session(ctx)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if sess.AccessToken != "access" || sess.AthleteID != 42 {
		t.Errorf("unexpected session %+v", sess)
	}

	exp, err := storage.ExpiresAt(ctx)
	if err != nil || !exp.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt() = %v, %v", exp, err)
	}
}

func TestSessionRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var refreshes int32
	storage := newTestStorage(t).WithRefresher(func(_ context.Context, id, secret, refresh string) (*TokenResponse, error) {
		atomic.AddInt32(&refreshes, 1)
		if id != "id" || secret != "secret" || refresh != "refresh" {
			t.Errorf("unexpected refresh args %q %q %q", id, secret, refresh)
		}
		return &TokenResponse{
			AccessToken:  "fresh",
			RefreshToken: "refresh2",
			ExpiresAt:    testNow.Add(6 * time.Hour).Unix(),
		}, nil
	})

	if err := storage.SaveFullConfig(ctx, "id", "secret", &TokenResponse{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(time.Minute).Unix(),
		AthleteID:    42,
	}); err != nil {
		t.Fatalf("SaveFullConfig() error: %v", err)
	}

	sess, err := storage.Session(ctx)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if sess.AccessToken != "fresh" || sess.AthleteID != 42 {
		t.Errorf("unexpected session %+v", sess)
	}

	// the refreshed token is persisted, so a second call does not refresh again
	if _, err := storage.Session(ctx); err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if n := atomic.LoadInt32(&refreshes); n != 1 {
		t.Errorf("expected one refresh, got %d", n)
	}

	tokens, err := storage.LoadTokens(ctx)
	if err != nil {
		t.Fatalf("LoadTokens() error: %v", err)
	}
	if tokens.RefreshToken != "refresh2" || tokens.AthleteID != 42 {
		t.Errorf("unexpected stored tokens %+v", tokens)
	}
}

func TestSessionRefreshFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := newTestStorage(t).WithRefresher(func(context.Context, string, string, string) (*TokenResponse, error) {
		return nil, errors.New("invalid_grant")
	})

	if err := storage.SaveFullConfig(ctx, "id", "secret", &TokenResponse{
		AccessToken: "stale", RefreshToken: "revoked", ExpiresAt: testNow.Add(-time.Hour).Unix(), AthleteID: 42,
	}); err != nil {
		t.Fatalf("SaveFullConfig() error: %v", err)
	}

	_, err := storage.Session(ctx)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if !errors.Is(err, service.ErrNoSession) {
		t.Errorf("expected refresh failure to match ErrNoSession, got %v", err)
	}

	f := service.Classify(err)
	if f.Kind != service.KindUnauthenticated || f.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("Classify() = %s/%d, want unauthenticated/401", f.Kind, f.HTTPStatus)
	}
	if strings.Contains(f.Message, "invalid_grant") {
		t.Errorf("Classify() message leaks refresh cause: %q", f.Message)
	}
}

func TestSessionResolvesAthlete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var lookups int32
	storage := newTestStorage(t).WithAthleteLookup(func(_ context.Context, token string) (int64, error) {
		atomic.AddInt32(&lookups, 1)
		if token != "access" {
			t.Errorf("unexpected token %q", token)
		}
		return 7, nil
	})

	if err := storage.SaveFullConfig(ctx, "id", "secret", &TokenResponse{
		AccessToken: "access", RefreshToken: "refresh", ExpiresAt: testNow.Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("SaveFullConfig() error: %v", err)
	}

	for i := 0; i < 2; i++ {
		sess, err := storage.Session(ctx)
		if err != nil {
			t.Fatalf("Session() error: %v", err)
		}
		if sess.AthleteID != 7 {
			t.Errorf("expected athlete 7, got %d", sess.AthleteID)
		}
	}
	if n := atomic.LoadInt32(&lookups); n != 1 {
		t.Errorf("expected the athlete id to be stored after one lookup, got %d lookups", n)
	}
}

func TestDeleteTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := newTestStorage(t)

	if err := storage.SaveFullConfig(ctx, "id", "secret", &TokenResponse{
		AccessToken: "access", RefreshToken: "refresh", ExpiresAt: testNow.Add(time.Hour).Unix(), AthleteID: 1,
	}); err != nil {
		t.Fatalf("SaveFullConfig() error: %v", err)
	}

	if err := storage.DeleteTokens(ctx); err != nil {
		t.Fatalf("DeleteTokens() error: %v", err)
	}
	if _, err := storage.GetValidAccessToken(ctx); !errors.Is(err, service.ErrNoSession) {
		t.Errorf("expected ErrNoSession after logout, got %v", err)
	}
}
