package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatekeeperhq/gatekeeper/internal/store"
)

// ErrInvalidLogin covers both unknown accounts and wrong passwords so the
// response does not reveal which one it was.
var ErrInvalidLogin = errors.New("invalid email or password")

// AdminPrincipal identifies an authenticated operator.
type AdminPrincipal struct {
	AdminID string
	Email   string
}

// AdminAuth issues and validates operator session tokens for the admin
// surface.
type AdminAuth struct {
	store     *store.Store
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAdminAuth creates an AdminAuth backed by the durable store.
func NewAdminAuth(s *store.Store, jwtSecret string, tokenTTL time.Duration) *AdminAuth {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AdminAuth{store: s, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL}
}

// HashPassword returns the bcrypt hash stored for an operator password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies the credentials and returns a signed session token.
func (a *AdminAuth) Login(ctx context.Context, email, password string) (string, error) {
	admin, err := a.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a comparison anyway so unknown emails cost the same as
			// wrong passwords.
			bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
				[]byte(password))
			return "", ErrInvalidLogin
		}
		return "", fmt.Errorf("lookup admin: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidLogin
	}

	now := time.Now()
	claims := adminClaims{
		AdminID: admin.ID.String(),
		Email:   admin.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			Issuer:    "gatekeeper",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a session token and returns the operator identity.
func (a *AdminAuth) ValidateToken(tokenStr string) (*AdminPrincipal, error) {
	claims := &adminClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidLogin
	}

	return &AdminPrincipal{AdminID: claims.AdminID, Email: claims.Email}, nil
}

type adminClaims struct {
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}
