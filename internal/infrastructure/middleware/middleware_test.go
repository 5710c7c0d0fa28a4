package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/services"
	"rillcall/pkg/errors"
	"rillcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newAuthRouter(t *testing.T, auth *services.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/rooms/:room", AuthMiddleware(auth), RoomPermissionMiddleware())
	group.GET("/peers/:peer", func(c *gin.Context) {
		id, _ := logger.UserID(c.Request.Context())
		c.String(http.StatusOK, id)
	})
	group.GET("/events", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func doGet(router http.Handler, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	router := newAuthRouter(t, auth)
	token, err := auth.GenerateToken("alice", "standup")
	require.NoError(t, err)

	w := doGet(router, "/rooms/standup/peers/alice", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, doGet(router, "/rooms/standup/peers/alice", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "/rooms/standup/peers/alice", "forged").Code)
	assert.Equal(t, http.StatusForbidden, doGet(router, "/rooms/standup/peers/bob", token).Code)
	assert.Equal(t, http.StatusForbidden, doGet(router, "/rooms/retro/peers/alice", token).Code)

	w = doGet(router, "/rooms/standup/events?access_token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code, "query token is accepted for websocket upgrades")
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	errors.Register(domain.ErrRoomFull, errors.ErrCodeConflict, http.StatusConflict)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/full", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("join: %w", domain.ErrRoomFull))
	})
	router.GET("/boom", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("disk on fire"))
	})
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(errors.NewInvalidInputError("bad tier").WithContext("tier", "8k"))
	})

	w := doGet(router, "/full", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CONFLICT", body["error"])
	assert.Equal(t, "join: room is full", body["message"])

	w = doGet(router, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire", "internal details stay out of responses")

	w = doGet(router, "/app", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"8k"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	assert.Equal(t, http.StatusInternalServerError, doGet(router, "/panic", "").Code)
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(logger.NewContextLogger(zaptest.NewLogger(t))))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := doGet(router, "/ping", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
