// Package devicetoken pairs client devices with the service and issues the
// bearer tokens the API requires. Pairing exchanges a pre-shared code,
// checked against a bcrypt hash, for a short-lived HS256 JWT bound to a
// generated device id.
package devicetoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenTTL is the default lifetime for device tokens.
	DefaultTokenTTL = 24 * time.Hour
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 30 * time.Second

	issuer   = "shelfscan"
	audience = "shelfscan-api"
)

var (
	ErrBadPairingCode = errors.New("invalid pairing code")
	ErrInvalidToken   = errors.New("invalid device token")
)

// Config configures device pairing and token verification.
type Config struct {
	// Secret signs and verifies HS256 device tokens.
	Secret string
	// PairingCodeHash is the bcrypt hash of the pre-shared pairing code.
	PairingCodeHash string
	TTL             time.Duration
	Leeway          time.Duration
}

// Authority pairs devices and validates their tokens.
type Authority struct {
	secret          []byte
	pairingCodeHash []byte
	ttl             time.Duration
	leeway          time.Duration
}

// New creates a device token authority.
func New(cfg Config) (*Authority, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("device token secret is required")
	}
	hash := strings.TrimSpace(cfg.PairingCodeHash)
	if hash == "" {
		return nil, errors.New("pairing code hash is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New("pairing code hash is not a bcrypt hash")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Authority{
		secret:          []byte(secret),
		pairingCodeHash: []byte(hash),
		ttl:             ttl,
		leeway:          leeway,
	}, nil
}

// Pairing is the result of a successful device pairing.
type Pairing struct {
	DeviceID  string    `json:"deviceId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Pair checks the pairing code and issues a token for a fresh device id.
func (a *Authority) Pair(code string) (Pairing, error) {
	if err := bcrypt.CompareHashAndPassword(a.pairingCodeHash, []byte(code)); err != nil {
		return Pairing{}, ErrBadPairingCode
	}
	deviceID := uuid.NewString()
	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   deviceID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Pairing{}, err
	}
	return Pairing{DeviceID: deviceID, Token: token, ExpiresAt: expiresAt}, nil
}

// Verify validates a device token and returns the device id.
func (a *Authority) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unsupported signing method")
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// HashPairingCode produces the bcrypt hash to store in configuration.
func HashPairingCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BearerToken extracts a bearer token from request header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
