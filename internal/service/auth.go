package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/store"
)

// JWTPrincipal identifies an authenticated admin session.
type JWTPrincipal struct {
	AdminID int64
	Email   string
}

// AdminAuth authenticates administrators with email/password and manages
// the JWT sessions the admin API uses.
type AdminAuth struct {
	store     *store.Store
	hasher    *hash.Bcrypt
	jwtSecret []byte
	logger    *slog.Logger
}

func NewAdminAuth(st *store.Store, hasher *hash.Bcrypt, jwtSecret string, logger *slog.Logger) *AdminAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminAuth{
		store:     st,
		hasher:    hasher,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
}

// Login verifies an admin's credentials and records the login time. Unknown
// emails, inactive accounts, and wrong passwords all return
// ErrInvalidCredentials.
func (s *AdminAuth) Login(ctx context.Context, email, password string) (*model.Admin, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.DummyVerify(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup admin: %w", err)
	}

	if !admin.IsActive {
		s.hasher.DummyVerify(password)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, admin.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if err := s.store.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		s.logger.Warn("failed to record admin login", "admin_id", admin.ID, "error", err)
	}

	return admin, nil
}

// IssueJWT creates a signed session token for the given admin.
func (s *AdminAuth) IssueJWT(ctx context.Context, adminID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "keygate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateJWT verifies a session token and returns the admin identity it
// carries.
func (s *AdminAuth) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

type jwtClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}
