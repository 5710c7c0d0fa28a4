package http

import (
	"net/http"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/services"
	"rillcall/pkg/circuitbreaker"
	"rillcall/pkg/errors"
)

var registerOnce sync.Once

// RegisterErrors maps domain errors onto API error codes.
func RegisterErrors() {
	registerOnce.Do(func() {
		errors.Register(domain.ErrPeerNotFound, errors.ErrCodeNotFound, http.StatusNotFound)
		errors.Register(domain.ErrRoomNotFound, errors.ErrCodeNotFound, http.StatusNotFound)
		errors.Register(domain.ErrInvalidSessionDescription, errors.ErrCodeInvalidInput, http.StatusBadRequest)
		errors.Register(domain.ErrUnknownQualityTier, errors.ErrCodeInvalidInput, http.StatusBadRequest)
		errors.Register(domain.ErrNoConnection, errors.ErrCodeConflict, http.StatusConflict)
		errors.Register(domain.ErrNoLocalStream, errors.ErrCodeConflict, http.StatusConflict)
		errors.Register(domain.ErrNoVideoSender, errors.ErrCodeConflict, http.StatusConflict)
		errors.Register(domain.ErrRoomFull, errors.ErrCodeConflict, http.StatusConflict)
		errors.Register(domain.ErrNoCameraAvailable, errors.ErrCodeUnprocessable, http.StatusUnprocessableEntity)
		errors.Register(domain.ErrNoMicrophoneAvailable, errors.ErrCodeUnprocessable, http.StatusUnprocessableEntity)
		errors.Register(domain.ErrCredentialsUnavailable, errors.ErrCodeBadGateway, http.StatusBadGateway)
		errors.Register(circuitbreaker.ErrOpen, errors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable)
		errors.Register(domain.ErrManagerClosed, errors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable)
		errors.Register(services.ErrInvalidToken, errors.ErrCodeUnauthorized, http.StatusUnauthorized)
		errors.Register(services.ErrExpiredToken, errors.ErrCodeUnauthorized, http.StatusUnauthorized)
		errors.Register(services.ErrForbidden, errors.ErrCodeUnauthorized, http.StatusForbidden)
	})
}
