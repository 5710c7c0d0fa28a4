package middleware

import (
	"net/http"
	"strings"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/services"
	"rillcall/pkg/errors"
	"rillcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware requires a bearer token. Browsers cannot set headers on a
// websocket upgrade, so the access_token query parameter is accepted too.
func AuthMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortWith(c, errors.NewUnauthorizedError("authorization header required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWith(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set(claimsKey, claims)
		ctx := logger.WithUserID(c.Request.Context(), string(claims.PeerID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RoomPermissionMiddleware checks the :room and :peer path parameters against
// the token claims. Routes without a :peer only need a token bound to the room.
func RoomPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			abortWith(c, errors.NewUnauthorizedError("authentication required"))
			return
		}

		room := domain.RoomID(c.Param("room"))
		peer := domain.PeerID(c.Param("peer"))
		if peer == "" {
			peer = claims.PeerID
		}
		if err := claims.Authorize(room, peer); err != nil {
			abortWith(c, errors.NewAppError(errors.ErrCodeUnauthorized, err.Error(), http.StatusForbidden))
			return
		}

		c.Request = c.Request.WithContext(logger.WithRoomID(c.Request.Context(), string(room)))
		c.Next()
	}
}

// Claims returns the claims stored by AuthMiddleware.
func Claims(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func abortWith(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
