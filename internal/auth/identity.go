package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the session user as carried in the access token. Username is
// what mention matching and typing labels key on; UserID is what membership
// and ownership checks key on.
type Identity struct {
	UserID   string
	Username string
}

// FromToken extracts the session identity from a JWT access token. With a
// secret the signature is verified (HS256); without one the token is parsed
// unverified (dev only).
func FromToken(tokenStr, secret string) (Identity, error) {
	var token *jwt.Token
	var err error
	if secret != "" {
		token, err = jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
	} else {
		token, _, err = new(jwt.Parser).ParseUnverified(tokenStr, jwt.MapClaims{})
	}
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid claims")
	}

	id := Identity{}
	if v, ok := getStringClaim(claims, "user_id"); ok {
		id.UserID = v
	} else if v, ok := getStringClaim(claims, "sub"); ok {
		id.UserID = v
	}
	if v, ok := getStringClaim(claims, "username"); ok {
		id.Username = v
	}
	if id.UserID == "" {
		return Identity{}, errors.New("token has no user id")
	}
	return id, nil
}

func getStringClaim(claims jwt.MapClaims, key string) (string, bool) {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}
