// Package crypto mints and verifies relay pairing tokens.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer     = "greeter"
	deriveInfo = "greeter relay pairing v1"
)

// Role identifies which side of a pairing a token admits.
type Role string

const (
	// RoleDapp is the greeter process.
	RoleDapp Role = "dapp"
	// RoleWallet is the browser page holding the wallet.
	RoleWallet Role = "wallet"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleDapp || r == RoleWallet }

// ErrInvalidRole is returned for tokens with an unknown role claim.
var ErrInvalidRole = errors.New("invalid pairing role")

// PairingClaims is the JWT payload of a pairing token.
type PairingClaims struct {
	Pairing string `json:"pairing"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// Pairing is a freshly minted pair of tokens sharing one pairing id.
type Pairing struct {
	ID          string
	DappToken   string
	WalletToken string
	ExpiresAt   time.Time
}

// JWTManager signs and verifies pairing tokens with an Ed25519 key derived
// from the local secret.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	now        func() time.Time
}

// NewJWTManager derives the signing key from secret with HKDF-SHA256.
func NewJWTManager(secret []byte) (*JWTManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty pairing secret")
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(deriveInfo)), seed); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	return &JWTManager{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		now:        time.Now,
	}, nil
}

// NewPairing mints a pairing id and one token per role, valid for ttl.
func (m *JWTManager) NewPairing(ttl time.Duration) (*Pairing, error) {
	id := uuid.NewString()
	expires := m.now().Add(ttl)

	dapp, err := m.CreateToken(id, RoleDapp, expires)
	if err != nil {
		return nil, err
	}
	wallet, err := m.CreateToken(id, RoleWallet, expires)
	if err != nil {
		return nil, err
	}
	return &Pairing{ID: id, DappToken: dapp, WalletToken: wallet, ExpiresAt: expires}, nil
}

// CreateToken signs a token admitting role to pairingID until expires.
func (m *JWTManager) CreateToken(pairingID string, role Role, expires time.Time) (string, error) {
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	now := m.now()
	claims := PairingClaims{
		Pairing: pairingID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   pairingID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(m.privateKey)
}

// VerifyToken checks the signature, expiry and role of a pairing token.
func (m *JWTManager) VerifyToken(tokenString string) (*PairingClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PairingClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*PairingClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if claims.Pairing == "" {
		return nil, fmt.Errorf("token has no pairing id")
	}
	return claims, nil
}
