// ABOUTME: Signed cookie cache of OAuth clients a browser has already approved
// ABOUTME: Uses HS256 JWTs so cookie contents are verified, never trusted

package consent

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie holding the signed approved-client set.
const CookieName = "__bookshelf_approved_clients"

// Errors returned when decoding a consent cookie.
var (
	ErrInvalidCookie = errors.New("invalid consent cookie")
	ErrExpiredCookie = errors.New("consent cookie expired")
)

// Record is the verified content of a consent cookie.
type Record struct {
	Clients   []string
	ExpiresAt time.Time
}

// approvalClaims is the JWT payload stored in the cookie.
type approvalClaims struct {
	Clients []string `json:"clients"`
	jwt.RegisteredClaims
}

// Cache signs and verifies consent cookies. It holds only the read-only key
// and is safe for concurrent use.
type Cache struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a consent cache. ttl is the window each re-signed cookie stays valid.
func New(secret []byte, ttl time.Duration) *Cache {
	return &Cache{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// CheckApproved reports whether the cookie value carries a valid, unexpired
// signature over a client set that contains clientID.
func (c *Cache) CheckApproved(cookieValue, clientID string) bool {
	if cookieValue == "" || clientID == "" {
		return false
	}
	rec, err := c.Decode(cookieValue)
	if err != nil {
		return false
	}
	return slices.Contains(rec.Clients, clientID)
}

// RecordApproval merges clientID into the approved set carried by the
// existing cookie value and returns a freshly signed cookie. An invalid or
// expired existing value contributes no clients.
func (c *Cache) RecordApproval(cookieValue, clientID string) (*http.Cookie, error) {
	if clientID == "" {
		return nil, errors.New("client id is required")
	}

	var clients []string
	if rec, err := c.Decode(cookieValue); err == nil {
		clients = rec.Clients
	}
	if !slices.Contains(clients, clientID) {
		clients = append(clients, clientID)
	}

	now := c.now()
	expiresAt := now.Add(c.ttl)
	claims := approvalClaims{
		Clients: clients,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("signing consent cookie: %w", err)
	}

	return &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Decode verifies the signature and expiry of a cookie value and returns its record.
func (c *Cache) Decode(cookieValue string) (*Record, error) {
	if cookieValue == "" {
		return nil, ErrInvalidCookie
	}

	var claims approvalClaims
	_, err := jwt.ParseWithClaims(cookieValue, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCookie
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	return &Record{
		Clients:   claims.Clients,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// FromRequest returns the consent cookie value sent with r, or "".
func FromRequest(r *http.Request) string {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}
