package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/model"
)

// Verifier authenticates a bearer token into an actor.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.Actor, error)
}

// Claims is the token payload.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// HMAC verifies and issues HS256 tokens.
type HMAC struct {
	secret []byte
	conf   Conf
	parser *jwt.Parser
}

func NewHMAC(conf Conf) (*HMAC, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(conf.Leeway),
	}
	if conf.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(conf.Issuer))
	}
	if conf.Audience != "" {
		opts = append(opts, jwt.WithAudience(conf.Audience))
	}
	return &HMAC{secret: []byte(conf.Secret), conf: conf, parser: jwt.NewParser(opts...)}, nil
}

// Verify returns NotAuthorized for any malformed, expired or unsigned token.
func (h *HMAC) Verify(_ context.Context, token string) (model.Actor, error) {
	var claims Claims
	_, err := h.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		return model.Actor{}, errs.Wrap(errs.NotAuthorized, err, "invalid token")
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		return model.Actor{}, errs.E(errs.NotAuthorized, "unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return model.Actor{}, errs.E(errs.NotAuthorized, "token has no subject")
	}
	return model.Actor{ID: claims.Subject, Username: claims.Username, Role: role}, nil
}

// Issue signs a token for actor valid for ttl.
func (h *HMAC) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: actor.Username,
		Role:     string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    h.conf.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if h.conf.Audience != "" {
		claims.Audience = jwt.ClaimStrings{h.conf.Audience}
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// FromRequest extracts a token from the Authorization header, falling back
// to the token query parameter used by browser sockets.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
