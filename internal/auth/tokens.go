package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tigsync/internal/errors"
	"tigsync/internal/metrics"
	"tigsync/internal/storage"
	"tigsync/shared/utils"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Claims holds JWT token claims.
type Claims struct {
	UserID      string       `json:"user_id"`
	Permissions []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenStore issues HS256 tokens and keeps a record of each in badger so
// tokens can be listed and revoked.
type TokenStore struct {
	store  *storage.BadgerStore
	secret []byte
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenStore creates a token store over db.
func NewTokenStore(db *badger.DB, secret string, logger *zap.Logger) *TokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenStore{
		store:  storage.NewBadgerStore(db, "token"),
		secret: []byte(secret),
		logger: logger,
		now:    time.Now,
	}
}

// Issue creates and records a token for userID. A zero ttl never expires.
func (s *TokenStore) Issue(_ context.Context, userID string, perms []Permission, ttl time.Duration) (*ApiToken, error) {
	if userID == "" {
		return nil, errors.ValidationError("user id is required", nil)
	}
	if len(perms) == 0 {
		return nil, errors.ValidationError("at least one permission is required", nil)
	}

	now := s.now().UTC().Truncate(time.Second)
	claims := &Claims{
		UserID:      userID,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var expiresAt *time.Time
	if ttl > 0 {
		exp := now.Add(ttl)
		expiresAt = &exp
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	record := &ApiToken{
		ID:          claims.ID,
		TokenHash:   utils.HashContent([]byte(signed)),
		UserID:      userID,
		Permissions: perms,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	if err := s.store.Create(record); err != nil {
		return nil, fmt.Errorf("recording token: %w", err)
	}

	s.logger.Info("token issued", zap.String("id", record.ID), zap.String("user", userID))

	issued := *record
	issued.Token = signed
	return &issued, nil
}

func (s *TokenStore) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ValidateToken checks the signature and expiry of token and that it has
// not been revoked.
func (s *TokenStore) ValidateToken(_ context.Context, token string) (*ApiToken, error) {
	if token == "" {
		metrics.RecordAuthAttempt(false)
		return nil, nil
	}
	if _, err := s.parse(token); err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		metrics.RecordAuthAttempt(false)
		return nil, nil
	}

	var record ApiToken
	if err := s.store.Get(utils.HashContent([]byte(token)), &record); err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			metrics.RecordAuthAttempt(false)
			return nil, nil
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	if record.Expired(s.now()) {
		metrics.RecordAuthAttempt(false)
		return nil, nil
	}

	metrics.RecordAuthAttempt(true)
	return &record, nil
}

// HasPermission reports whether token grants p.
func (s *TokenStore) HasPermission(token *ApiToken, p Permission) bool {
	return token.HasPermission(p)
}

// List returns every recorded token, oldest first.
func (s *TokenStore) List(_ context.Context) ([]ApiToken, error) {
	var tokens []ApiToken
	if err := s.store.List(&tokens); err != nil {
		return nil, err
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].CreatedAt.Before(tokens[j].CreatedAt) })
	return tokens, nil
}

// Revoke deletes a token record, identified either by the token itself or
// by its id.
func (s *TokenStore) Revoke(ctx context.Context, tokenOrID string) error {
	if strings.Count(tokenOrID, ".") == 2 {
		return s.store.Delete(utils.HashContent([]byte(tokenOrID)))
	}

	tokens, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if t.ID == tokenOrID {
			s.logger.Info("token revoked", zap.String("id", t.ID), zap.String("user", t.UserID))
			return s.store.Delete(t.TokenHash)
		}
	}
	return errors.NotFound(fmt.Sprintf("token %s not found", tokenOrID))
}
