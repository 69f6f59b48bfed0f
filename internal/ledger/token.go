package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// intuitTokenURL is the OAuth token endpoint shared by sandbox and
// production environments.
const intuitTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"

// SavedToken is the on-disk token format written by the auth flow.
type SavedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	RealmID      string    `json:"realm_id"`
	Environment  string    `json:"environment,omitempty"`
}

// TokenStorage persists OAuth tokens between process invocations.
type TokenStorage interface {
	Load(ctx context.Context) (*SavedToken, error)
	Save(ctx context.Context, token *SavedToken) error
}

// FileTokenStorage stores the token as a JSON file with restricted
// permissions.
type FileTokenStorage struct {
	path string
}

// NewFileTokenStorage creates storage backed by the given file path.
func NewFileTokenStorage(path string) *FileTokenStorage {
	return &FileTokenStorage{path: path}
}

func (f *FileTokenStorage) Load(ctx context.Context) (*SavedToken, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var saved SavedToken
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	return &saved, nil
}

func (f *FileTokenStorage) Save(ctx context.Context, token *SavedToken) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}

// TokenManager hands out valid access tokens, refreshing through the OAuth
// endpoint when the cached token expires or the API rejects it.
type TokenManager struct {
	storage      TokenStorage
	clientID     string
	clientSecret string

	mu     sync.Mutex
	cached *SavedToken
}

// NewTokenManager creates a token manager over the given storage.
func NewTokenManager(storage TokenStorage, clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		storage:      storage,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// AccessToken returns a currently valid access token, refreshing first if
// the cached one has expired.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.cached == nil {
		saved, err := tm.storage.Load(ctx)
		if err != nil {
			return "", err
		}
		if saved == nil {
			return "", fmt.Errorf("no stored token; run the auth flow first")
		}
		tm.cached = saved
	}

	if tm.cached.Expiry.After(time.Now().Add(30 * time.Second)) {
		return tm.cached.AccessToken, nil
	}

	return tm.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next AccessToken call refreshes.
// Called after the remote API rejects a request with 401.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.cached != nil {
		tm.cached.Expiry = time.Time{}
	}
}

// RealmID returns the company realm the stored token is bound to.
func (tm *TokenManager) RealmID(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.cached == nil {
		saved, err := tm.storage.Load(ctx)
		if err != nil {
			return "", err
		}
		if saved == nil {
			return "", fmt.Errorf("no stored token; run the auth flow first")
		}
		tm.cached = saved
	}
	return tm.cached.RealmID, nil
}

// refreshLocked exchanges the refresh token for a new access token and
// persists the result. Caller holds tm.mu.
func (tm *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	conf := &oauth2.Config{
		ClientID:     tm.clientID,
		ClientSecret: tm.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: intuitTokenURL},
	}

	src := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  tm.cached.AccessToken,
		RefreshToken: tm.cached.RefreshToken,
		TokenType:    tm.cached.TokenType,
		Expiry:       tm.cached.Expiry,
	})

	fresh, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	tm.cached.AccessToken = fresh.AccessToken
	tm.cached.TokenType = fresh.TokenType
	tm.cached.Expiry = fresh.Expiry
	if fresh.RefreshToken != "" {
		tm.cached.RefreshToken = fresh.RefreshToken
	}

	if err := tm.storage.Save(ctx, tm.cached); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	return tm.cached.AccessToken, nil
}
