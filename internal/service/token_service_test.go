package service

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

var sessionAccount = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "offchain-settlement", NewManualClock(testNow))

	tokenStr, expiresAt, err := svc.Generate(sessionAccount)
	require.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.Equal(t, testNow.Add(time.Hour), expiresAt)

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, sessionAccount, claims.Account)
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	clock := NewManualClock(testNow)
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "offchain-settlement", clock)

	tokenStr, _, err := svc.Generate(sessionAccount)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = svc.Validate(tokenStr)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = svc.Validate(tokenStr)
	assert.Error(t, err, "expired token should fail validation")
}

func TestJWTTokenService_ExpiryFollowsInjectedClock(t *testing.T) {
	issuedAt := time.Unix(1_000_000_000, 0).UTC()
	svc := NewJWTTokenService(testJWTSecret, 10*time.Minute, "offchain-settlement", NewManualClock(issuedAt))

	tokenStr, expiresAt, err := svc.Generate(sessionAccount)
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(10*time.Minute), expiresAt)

	claims := &jwt.RegisteredClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tokenStr, claims)
	require.NoError(t, err)
	assert.Equal(t, issuedAt, claims.IssuedAt.Time.UTC())
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", time.Hour, "issuer", NewManualClock(testNow))
	svc2 := NewJWTTokenService("secret-2", time.Hour, "issuer", NewManualClock(testNow))

	tokenStr, _, err := svc1.Generate(sessionAccount)
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err, "token signed with different secret should fail")
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	issued := NewJWTTokenService(testJWTSecret, time.Hour, "someone-else", NewManualClock(testNow))
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "offchain-settlement", NewManualClock(testNow))

	tokenStr, _, err := issued.Generate(sessionAccount)
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_MalformedSubject(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer", NewManualClock(testNow))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "0xb0b",
		Issuer:    "issuer",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	})
	tokenStr, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidTokenString(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer", NewManualClock(testNow))

	_, err := svc.Validate("not.a.valid.jwt")
	assert.Error(t, err)

	_, err = svc.Validate("")
	assert.Error(t, err)
}
