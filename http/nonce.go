package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stcchain/evmpay"
)

// Nonce defaults.
const (
	DefaultNonceAction = "evm_payment_nonce"
	DefaultNonceTTL    = 24 * time.Hour
)

var (
	// ErrNonceSessionMismatch is returned when a token was issued to another session.
	ErrNonceSessionMismatch = errors.New("nonce bound to another session")

	// ErrNonceActionMismatch is returned when a token was issued for another action.
	ErrNonceActionMismatch = errors.New("nonce issued for another action")
)

type nonceClaims struct {
	Action    string `json:"act"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// NonceManager issues and verifies anti-forgery tokens: HS256 JWTs bound
// to an action name and a session id, valid for a fixed lifetime.
type NonceManager struct {
	secret []byte
	action string
	ttl    time.Duration
	now    func() time.Time
}

// NonceOption configures a NonceManager.
type NonceOption func(*NonceManager)

// WithNonceAction sets the action tokens are bound to.
func WithNonceAction(action string) NonceOption {
	return func(m *NonceManager) {
		m.action = action
	}
}

// WithNonceTTL sets the token lifetime.
func WithNonceTTL(ttl time.Duration) NonceOption {
	return func(m *NonceManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithNonceClock overrides time.Now.
func WithNonceClock(now func() time.Time) NonceOption {
	return func(m *NonceManager) {
		m.now = now
	}
}

// NewNonceManager creates a manager signing with secret.
func NewNonceManager(secret []byte, opts ...NonceOption) (*NonceManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("nonce secret is required")
	}
	m := &NonceManager{
		secret: secret,
		action: DefaultNonceAction,
		ttl:    DefaultNonceTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates a token for sessionID.
func (m *NonceManager) Issue(sessionID string) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, nonceClaims{
		Action:    m.action,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign nonce: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry, action and session binding.
func (m *NonceManager) Verify(token, sessionID string) error {
	claims := &nonceClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return err
	}
	if claims.Action != m.action {
		return ErrNonceActionMismatch
	}
	if claims.SessionID != sessionID {
		return ErrNonceSessionMismatch
	}
	return nil
}

var _ evmpay.NonceVerifier = (*NonceManager)(nil)
