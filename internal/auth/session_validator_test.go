package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "app_session"
	testSessionIssuer        = "turfledger-auth"
	testSessionUserID        = "user-123"
)

func newTestValidator(t *testing.T, now time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return now
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signClaims(t *testing.T, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func claimsAt(now time.Time, role string, ttl time.Duration) SessionClaims {
	return SessionClaims{
		UserID:   testSessionUserID,
		UserRole: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	claims, err := validator.ValidateToken(signClaims(t, claimsAt(clockNow, RoleAdmin, time.Hour)))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID || !claims.IsAdmin() {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	wrongIssuer := claimsAt(clockNow, RoleTechnician, time.Hour)
	wrongIssuer.Issuer = "someone-else"
	noRole := claimsAt(clockNow, "", time.Hour)

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "expired", token: signClaims(t, claimsAt(clockNow, RoleTechnician, -time.Hour)), want: ErrExpiredSessionToken},
		{name: "issuer", token: signClaims(t, wrongIssuer), want: ErrInvalidSessionToken},
		{name: "role", token: signClaims(t, noRole), want: ErrUnknownSessionRole},
		{name: "garbage", token: "not.a.token", want: ErrInvalidSessionToken},
		{name: "empty", token: " ", want: ErrMissingSessionToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(testCase.token); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequestUsesCookieOrBearer(t *testing.T) {
	clockNow := time.Now()
	validator := newTestValidator(t, clockNow)
	signed := signClaims(t, claimsAt(clockNow, RoleTechnician, time.Hour))

	cookieRequest := httptest.NewRequest(http.MethodGet, "/api/inventory", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
	if claims, err := validator.ValidateRequest(cookieRequest); err != nil || claims.UserRole != RoleTechnician {
		t.Fatalf("cookie validation failed: %v %#v", err, claims)
	}

	bearerRequest := httptest.NewRequest(http.MethodGet, "/api/inventory", http.NoBody)
	bearerRequest.Header.Set("Authorization", "Bearer "+signed)
	if _, err := validator.ValidateRequest(bearerRequest); err != nil {
		t.Fatalf("bearer validation failed: %v", err)
	}

	bare := httptest.NewRequest(http.MethodGet, "/api/inventory", http.NoBody)
	if _, err := validator.ValidateRequest(bare); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}
