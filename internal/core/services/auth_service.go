package services

import (
	"errors"
	"time"

	"rillcall/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrForbidden    = errors.New("token does not grant access to this peer")
)

// Claims identify a participant. An empty Room grants access to any room.
type Claims struct {
	PeerID domain.PeerID `json:"peer_id"`
	Room   domain.RoomID `json:"room,omitempty"`
	jwt.RegisteredClaims
}

// Authorize checks that the claims cover peer in room.
func (c *Claims) Authorize(room domain.RoomID, peer domain.PeerID) error {
	if c.PeerID != peer {
		return ErrForbidden
	}
	if c.Room != "" && c.Room != room {
		return ErrForbidden
	}
	return nil
}

type AuthService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	now            func() time.Time
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) *AuthService {
	return &AuthService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		now:            time.Now,
	}
}

// GenerateToken issues an HS256 token for peer, optionally bound to room.
func (s *AuthService) GenerateToken(peer domain.PeerID, room domain.RoomID) (string, error) {
	now := s.now()
	claims := &Claims{
		PeerID: peer,
		Room:   room,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(peer),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.PeerID != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
