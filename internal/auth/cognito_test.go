package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/filevault/internal/apperr"
)

const (
	testIssuer   = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_test"
	testClientID = "client-123"
)

var (
	keyOnce sync.Once
	keyA    *rsa.PrivateKey
	keyB    *rsa.PrivateKey
)

func signingKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		keyA, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		keyB, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
	})
	return keyA, keyB
}

type jwksServer struct {
	mu     sync.Mutex
	keys   map[string]*rsa.PublicKey
	status int
	hits   atomic.Int32
}

func (s *jwksServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	var set jwks
	for kid, pub := range s.keys {
		set.Keys = append(set.Keys, jwk{
			Kid: kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (s *jwksServer) publish(kid string, pub *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = pub
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T, srv *jwksServer) *CognitoVerifier {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	logger, _ := test.NewNullLogger()
	v := NewCognitoVerifier(logger, CognitoConfig{
		Issuer:   testIssuer,
		ClientID: testClientID,
		JWKSURL:  ts.URL,
	})
	v.now = func() time.Time { return testNow }
	return v
}

func idClaims() cognitoClaims {
	return cognitoClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "user-42",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
		TokenUse: tokenUseID,
		Email:    "user42@example.com",
	}
}

func sign(t *testing.T, claims cognitoClaims, kid string, key *rsa.PrivateKey) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyValidTokens(t *testing.T) {
	a, _ := signingKeys(t)
	srv := &jwksServer{keys: map[string]*rsa.PublicKey{"kid-a": &a.PublicKey}}
	v := newVerifier(t, srv)

	access := idClaims()
	access.TokenUse = tokenUseAccess
	access.Audience = nil
	access.ClientID = testClientID
	access.Email = ""

	tests := []struct {
		name   string
		claims cognitoClaims
		email  string
	}{
		{"id token", idClaims(), "user42@example.com"},
		{"access token", access, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Verify(context.Background(), sign(t, tt.claims, "kid-a", a))
			require.NoError(t, err)
			assert.True(t, res.Valid, res.Error)
			assert.Equal(t, "user-42", res.UserID)
			assert.Equal(t, tt.email, res.Email)
		})
	}
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	a, b := signingKeys(t)
	srv := &jwksServer{keys: map[string]*rsa.PublicKey{"kid-a": &a.PublicKey}}
	v := newVerifier(t, srv)

	expired := idClaims()
	expired.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Second))

	foreign := idClaims()
	foreign.Issuer = "https://issuer.example.com"

	wrongAudience := idClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}

	wrongClient := idClaims()
	wrongClient.TokenUse = tokenUseAccess
	wrongClient.ClientID = "someone-else"

	noExpiry := idClaims()
	noExpiry.ExpiresAt = nil

	refresh := idClaims()
	refresh.TokenUse = "refresh"

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"garbage", "not-a-jwt", "Malformed token"},
		{"expired", sign(t, expired, "kid-a", a), "Token has expired"},
		{"foreign issuer", sign(t, foreign, "kid-a", a), "Token issuer is not trusted"},
		{"wrong audience", sign(t, wrongAudience, "kid-a", a), "Token audience does not match"},
		{"wrong client", sign(t, wrongClient, "kid-a", a), "Token client does not match"},
		{"no expiry", sign(t, noExpiry, "kid-a", a), "Token is invalid"},
		{"unsupported use", sign(t, refresh, "kid-a", a), "Unsupported token use"},
		{"signed by other key", sign(t, idClaims(), "kid-a", b), "Token signature is invalid"},
		{"missing kid", sign(t, idClaims(), "", a), "Token is missing a key id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Verify(context.Background(), tt.token)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, res.Error)
		})
	}
}

func TestVerifyRejectsSymmetricAlgorithms(t *testing.T) {
	a, _ := signingKeys(t)
	srv := &jwksServer{keys: map[string]*rsa.PublicKey{"kid-a": &a.PublicKey}}
	v := newVerifier(t, srv)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, idClaims())
	tok.Header["kid"] = "kid-a"
	s, err := tok.SignedString([]byte("shared"))
	require.NoError(t, err)

	res, err := v.Verify(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerifyRefetchesOnUnknownKid(t *testing.T) {
	a, b := signingKeys(t)
	srv := &jwksServer{keys: map[string]*rsa.PublicKey{"kid-a": &a.PublicKey}}
	v := newVerifier(t, srv)

	res, err := v.Verify(context.Background(), sign(t, idClaims(), "kid-a", a))
	require.NoError(t, err)
	require.True(t, res.Valid)

	// Rotated key published after the first fetch; still within the refresh
	// interval so the unknown kid is rejected without another fetch.
	srv.publish("kid-b", &b.PublicKey)
	rotated := sign(t, idClaims(), "kid-b", b)
	res, err = v.Verify(context.Background(), rotated)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "Token signed with an unknown key", res.Error)
	assert.EqualValues(t, 1, srv.hits.Load())

	testNowLater := testNow.Add(time.Minute)
	v.now = func() time.Time { return testNowLater }
	res, err = v.Verify(context.Background(), rotated)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestVerifyJWKSFailure(t *testing.T) {
	a, _ := signingKeys(t)
	srv := &jwksServer{status: http.StatusServiceUnavailable}
	v := newVerifier(t, srv)

	_, err := v.Verify(context.Background(), sign(t, idClaims(), "kid-a", a))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindExternalService))
}

func TestRSAKeyRejectsBadParameters(t *testing.T) {
	_, err := rsaKey(jwk{N: "!!", E: "AQAB"})
	assert.Error(t, err)

	_, err = rsaKey(jwk{N: "AQAB", E: ""})
	assert.Error(t, err)

	pub, err := rsaKey(jwk{N: "AQAB", E: "AQAB"})
	require.NoError(t, err)
	assert.Equal(t, 65537, pub.E)
}
