package utils

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"compliance-api/core/constants"
	"compliance-api/core/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims identifies the company a request acts for.
type TokenClaims struct {
	CompanyID int64  `json:"company_id"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

func GenerateToken(secret, issuer string, companyID int64, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		CompanyID: companyID,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   fmt.Sprintf("company:%d", companyID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ValidateAndParseToken(secret, tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.NewAppError(errors.ErrTokenExpired, "Token expired", err)
		}
		return nil, errors.NewAppError(errors.ErrInvalidTokenFormat, "Invalid token", err)
	}
	if !token.Valid || claims.CompanyID <= 0 {
		return nil, errors.NewAppError(errors.ErrInvalidTokenFormat, "Invalid token claims", nil)
	}
	if claims.Scope != constants.ScopeTokenAccess {
		return nil, errors.NewAppError(errors.ErrForbidden, "Token scope not allowed", nil)
	}
	return claims, nil
}

// GetTokenFromHeader strips the Bearer prefix from an Authorization header.
func GetTokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.NewAppError(errors.ErrMissingAuthorizationHeader, "Missing authorization header", nil)
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", errors.NewAppError(errors.ErrInvalidTokenFormat, "Authorization header must be a Bearer token", nil)
	}
	return token, nil
}
