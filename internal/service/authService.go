package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const adminRole = "admin"

type AuthConfig struct {
	Username     string
	PasswordHash string
	Secret       string
	Expiration   time.Duration
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminClaims is the JWT payload of an admin session.
type AdminClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	limiter RateLimiter
	cfg     AuthConfig
	now     Clock
}

func NewAuthService(limiter RateLimiter, cfg AuthConfig, now Clock) AuthService {
	if cfg.Expiration <= 0 {
		cfg.Expiration = 12 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &authService{limiter: limiter, cfg: cfg, now: now}
}

// Login checks admin credentials. identity is the caller's client address and
// drives the escalation block.
func (s *authService) Login(ctx context.Context, username, password, identity string) (*LoginResult, error) {
	if blocked, _ := s.limiter.IsBlocked(ctx, identity); blocked {
		return nil, entity.ErrAuthBlocked
	}

	if s.cfg.PasswordHash == "" || s.cfg.Secret == "" {
		logrus.Warn("admin login attempted but admin credentials are not configured")
		return nil, entity.ErrUnauthorized
	}

	hashErr := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password))
	if username != s.cfg.Username || hashErr != nil {
		s.limiter.RecordAuthFailure(ctx, identity)
		logrus.WithField("identity", identity).Warn("Admin login failed")
		return nil, entity.ErrUnauthorized
	}
	s.limiter.ResetAuthFailures(ctx, identity)

	now := s.now()
	expiresAt := now.Add(s.cfg.Expiration)
	claims := AdminClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	logrus.WithField("username", username).Info("Admin logged in")
	return &LoginResult{Token: signed, ExpiresAt: expiresAt.UTC()}, nil
}

func (s *authService) ParseToken(token string) (*AdminClaims, error) {
	if s.cfg.Secret == "" {
		return nil, entity.ErrUnauthorized
	}
	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.Join(entity.ErrUnauthorized, err)
	}
	if claims.Role != adminRole {
		return nil, entity.ErrUnauthorized
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash suitable for admin.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
