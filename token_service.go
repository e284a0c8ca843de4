package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// Default session lifetimes
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// SignedToken is a minted JWT and its expiration
type SignedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenService mints and validates access and refresh tokens. Each kind
// is signed with its own secret.
type TokenService interface {
	GenerateAccess(identity Identity) (SignedToken, error)
	GenerateRefresh(identity Identity, version int) (SignedToken, error)
	ValidateAccess(token string) (*Claims, error)
	ValidateRefresh(token string) (*Claims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        Clock
	logger     Logger
}

// NewTokenService creates a new TokenService instance from cfg
func NewTokenService(cfg Config, clock Clock, logger Logger) *TokenServiceImpl {
	accessTTL := cfg.GetAccessTokenTTL()
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}

	refreshTTL := cfg.GetRefreshTokenTTL()
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	return &TokenServiceImpl{
		accessKey:  []byte(cfg.GetAccessTokenSecret()),
		refreshKey: []byte(cfg.GetRefreshTokenSecret()),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		now:        normalizeClock(clock),
		logger:     normalizeLogger(logger),
	}
}

func (ts *TokenServiceImpl) GenerateAccess(identity Identity) (SignedToken, error) {
	return ts.generate(identity, TokenTypeAccess, 0, ts.accessTTL, ts.accessKey)
}

func (ts *TokenServiceImpl) GenerateRefresh(identity Identity, version int) (SignedToken, error) {
	return ts.generate(identity, TokenTypeRefresh, version, ts.refreshTTL, ts.refreshKey)
}

func (ts *TokenServiceImpl) generate(identity Identity, typ string, version int, ttl time.Duration, key []byte) (SignedToken, error) {
	if identity == nil || identity.ID() == "" {
		return SignedToken{}, goerrors.New("identity must not be empty", goerrors.CategoryInternal)
	}

	now := ts.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:    typ,
		Version: version,
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(key)
	if err != nil {
		return SignedToken{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return SignedToken{Token: signedString, ExpiresAt: expiresAt}, nil
}

func (ts *TokenServiceImpl) ValidateAccess(token string) (*Claims, error) {
	return ts.validate(token, TokenTypeAccess, ts.accessKey)
}

func (ts *TokenServiceImpl) ValidateRefresh(token string) (*Claims, error) {
	return ts.validate(token, TokenTypeRefresh, ts.refreshKey)
}

// validate checks signature, issuer, audience, expiry and token type. Every
// failure maps to ErrInvalidSession.
func (ts *TokenServiceImpl) validate(tokenString, typ string, key []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidSession
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token service validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOptions...)

	if err != nil {
		rejected := newInvalidSessionError(err)
		ts.logger.Debug("token service rejected %s token (%s): %v", typ, SessionRejectReason(rejected), err)
		return nil, rejected
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}

	if claims.Type != typ {
		ts.logger.Debug("token service rejected token of type %q, expected %q", claims.Type, typ)
		return nil, ErrInvalidSession
	}

	return claims, nil
}
