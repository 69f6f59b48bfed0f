package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists reconciliation sessions keyed by (accountID,
// statementDate). Implementations must serialize writes for the same key;
// sessions for different keys are independent.
type Store interface {
	// Get returns the session for the key, or nil when absent.
	Get(ctx context.Context, accountID string, statementDate time.Time) (*Session, error)
	// Latest returns the most recently started session for the account,
	// or nil when the account has none.
	Latest(ctx context.Context, accountID string) (*Session, error)
	// Put inserts or replaces a session.
	Put(ctx context.Context, sess *Session) error
	// Delete removes a session; deleting a missing key is not an error.
	Delete(ctx context.Context, accountID string, statementDate time.Time) error
	// Close releases underlying resources.
	Close() error
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (ms *MemoryStore) Get(ctx context.Context, accountID string, statementDate time.Time) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	sess, ok := ms.sessions[sessionKey(accountID, statementDate)]
	if !ok {
		return nil, nil
	}
	clone := *sess
	return &clone, nil
}

func (ms *MemoryStore) Latest(ctx context.Context, accountID string) (*Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var matches []*Session
	for _, sess := range ms.sessions {
		if sess.AccountID == accountID {
			matches = append(matches, sess)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StatementDate.After(matches[j].StatementDate)
	})
	clone := *matches[0]
	return &clone, nil
}

func (ms *MemoryStore) Put(ctx context.Context, sess *Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	clone := *sess
	ms.sessions[sessionKey(sess.AccountID, sess.StatementDate)] = &clone
	return nil
}

func (ms *MemoryStore) Delete(ctx context.Context, accountID string, statementDate time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.sessions, sessionKey(accountID, statementDate))
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}

func sessionKey(accountID string, statementDate time.Time) string {
	return accountID + "|" + statementDate.Format("2006-01-02")
}
