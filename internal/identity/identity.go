// Package identity validates the auth provider's tokens. Sign-in itself
// happens elsewhere; the duel core only needs to know, verifiably, who the
// local participant is.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/riftzone/riftzone/internal/game"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the token payload the auth provider issues per user.
type Claims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// FromToken verifies an HMAC-signed token and returns the participant it
// identifies. The subject claim carries the user id.
func FromToken(tokenString string, secret []byte) (game.Participant, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return game.Participant{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return game.Participant{}, ErrInvalidToken
	}
	return game.Participant{
		ID:     claims.Subject,
		Name:   claims.Name,
		Avatar: claims.Avatar,
	}, nil
}
