package manager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/meshwarden/meshwarden/pkg/types"
)

// DefaultTokenTTL is the lifetime of a device token
const DefaultTokenTTL = 24 * time.Hour

// TokenManager issues and validates device tokens. A token is bound to the
// node's TokenVersion at issuance time; re-issuing the node's certificate
// bumps the version, so older tokens stop verifying even before they expire.
type TokenManager struct {
	tokens map[string]*DeviceToken
	mu     sync.RWMutex
}

// DeviceToken lets a device fetch its own certificate material and config
type DeviceToken struct {
	Token        string
	NodeID       string
	TokenVersion int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*DeviceToken),
	}
}

// Generate issues a token for the given node
func (tm *TokenManager) Generate(node *types.Node, ttl time.Duration) (*DeviceToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	dt := &DeviceToken{
		Token:        hex.EncodeToString(bytes),
		NodeID:       node.ID,
		TokenVersion: node.TokenVersion,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[dt.Token] = dt
	tm.mu.Unlock()

	return dt, nil
}

// Validate checks a token against the node's current state and returns the
// node ID it is bound to
func (tm *TokenManager) Validate(token string, node *types.Node) (string, error) {
	tm.mu.RLock()
	dt, exists := tm.tokens[token]
	tm.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("invalid token")
	}
	if time.Now().After(dt.ExpiresAt) {
		return "", fmt.Errorf("token expired")
	}
	if dt.NodeID != node.ID {
		return "", fmt.Errorf("token not issued for this node")
	}
	if dt.TokenVersion != node.TokenVersion {
		return "", fmt.Errorf("token superseded by re-enrollment")
	}

	return dt.NodeID, nil
}

// Revoke removes a token
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired removes expired tokens
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, dt := range tm.tokens {
		if now.After(dt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}

// IssueDeviceToken issues a device token for a node
func (m *Manager) IssueDeviceToken(nodeID string, ttl time.Duration) (*DeviceToken, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	return m.tokens.Generate(node, ttl)
}

// ValidateDeviceToken resolves a token to its node, enforcing expiry and
// the token-version check
func (m *Manager) ValidateDeviceToken(token, nodeID string) (*types.Node, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if _, err := m.tokens.Validate(token, node); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return node, nil
}
