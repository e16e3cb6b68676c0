package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xelth-com/parcelseal/internal/models"
)

// GenerateAccessToken issues a bearer token for a staff identity. Issuing
// credentials belongs to the account service; this exists for operators,
// scanner provisioning and tests.
func GenerateAccessToken(id models.Identity, secret string, ttl time.Duration) (string, error) {
	if id.SubjectID == "" || id.Role == "" {
		return "", errors.New("subject and role are required")
	}
	claims := jwt.MapClaims{
		"sub":  id.SubjectID,
		"role": string(id.Role),
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a token
func ValidateToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// IdentityFromClaims extracts the (subject, role) pair
func IdentityFromClaims(claims jwt.MapClaims) (models.Identity, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return models.Identity{}, errors.New("token has no subject")
	}
	role, ok := claims["role"].(string)
	if !ok || role == "" {
		return models.Identity{}, fmt.Errorf("token for %s has no role", sub)
	}
	return models.Identity{SubjectID: sub, Role: models.Role(role)}, nil
}
