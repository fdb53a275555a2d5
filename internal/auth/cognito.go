package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/pipeline"
)

const (
	tokenUseID     = "id"
	tokenUseAccess = "access"

	defaultRefreshInterval = 30 * time.Second
)

type CognitoConfig struct {
	Issuer   string
	ClientID string
	// JWKSURL defaults to Issuer + "/.well-known/jwks.json".
	JWKSURL    string
	HTTPClient *http.Client
	// MinRefreshInterval bounds how often an unknown kid can trigger a fetch.
	MinRefreshInterval time.Duration
}

// CognitoVerifier validates user pool JWTs against the pool's published
// signing keys.
type CognitoVerifier struct {
	issuer     string
	clientID   string
	jwksURL    string
	client     *http.Client
	minRefresh time.Duration
	now        func() time.Time
	log        *logrus.Entry

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastFetched time.Time
	group       singleflight.Group
}

type cognitoClaims struct {
	jwt.RegisteredClaims
	TokenUse string `json:"token_use"`
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func NewCognitoVerifier(logger *logrus.Logger, cfg CognitoConfig) *CognitoVerifier {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = cfg.Issuer + "/.well-known/jwks.json"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	minRefresh := cfg.MinRefreshInterval
	if minRefresh <= 0 {
		minRefresh = defaultRefreshInterval
	}

	return &CognitoVerifier{
		issuer:     cfg.Issuer,
		clientID:   cfg.ClientID,
		jwksURL:    jwksURL,
		client:     client,
		minRefresh: minRefresh,
		now:        time.Now,
		log:        logger.WithField("component", "cognito_verifier"),
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Verify reports whether token is a live token issued by the pool for this
// client. Token problems come back as an invalid result; only key retrieval
// failures are returned as errors.
func (v *CognitoVerifier) Verify(ctx context.Context, token string) (pipeline.VerifyResult, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(token, &cognitoClaims{})
	if err != nil {
		return invalid("Malformed token"), nil
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return invalid("Token is missing a key id"), nil
	}

	key, err := v.key(ctx, kid)
	if err != nil {
		return pipeline.VerifyResult{}, err
	}
	if key == nil {
		return invalid("Token signed with an unknown key"), nil
	}

	var claims cognitoClaims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid("Token has expired"), nil
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return invalid("Token issuer is not trusted"), nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invalid("Token signature is invalid"), nil
	case err != nil:
		return invalid("Token is invalid"), nil
	}

	switch claims.TokenUse {
	case tokenUseID:
		if !slices.Contains(claims.Audience, v.clientID) {
			return invalid("Token audience does not match"), nil
		}
	case tokenUseAccess:
		if claims.ClientID != v.clientID {
			return invalid("Token client does not match"), nil
		}
	default:
		return invalid("Unsupported token use"), nil
	}

	if claims.Subject == "" {
		return invalid("Token has no subject"), nil
	}
	return pipeline.VerifyResult{Valid: true, UserID: claims.Subject, Email: claims.Email}, nil
}

func invalid(msg string) pipeline.VerifyResult {
	return pipeline.VerifyResult{Valid: false, Error: msg}
}

// key returns the cached key for kid, refreshing the set when kid is unknown.
// A nil key with a nil error means the kid is not published.
func (v *CognitoVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := !v.lastFetched.IsZero() && v.now().Sub(v.lastFetched) < v.minRefresh
	v.mu.RUnlock()
	if ok {
		return key, nil
	}
	if fresh {
		return nil, nil
	}

	_, err, _ := v.group.Do("jwks", func() (any, error) {
		return nil, v.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys[kid], nil
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *CognitoVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return apperr.ExternalService("Failed to fetch signing keys", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		v.log.WithError(err).Error("JWKS request failed")
		return apperr.ExternalService("Failed to fetch signing keys", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.log.WithField("status", resp.StatusCode).Error("JWKS request rejected")
		return apperr.ExternalService("Failed to fetch signing keys", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return apperr.ExternalService("Failed to decode signing keys", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			v.log.WithError(err).WithField("kid", k.Kid).Warn("Skipping malformed signing key")
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetched = v.now()
	v.mu.Unlock()

	v.log.WithField("keys", len(keys)).Info("Signing keys refreshed")
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 4 {
		return nil, errors.New("invalid key parameters")
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
