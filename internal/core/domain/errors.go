package domain

import "errors"

var (
	ErrPeerNotFound              = errors.New("peer not found")
	ErrRoomNotFound              = errors.New("room not found")
	ErrNoConnection              = errors.New("no active connection")
	ErrNoLocalStream             = errors.New("no local stream")
	ErrNoVideoSender             = errors.New("no video sender")
	ErrNoCameraAvailable         = errors.New("no camera available")
	ErrNoMicrophoneAvailable     = errors.New("no microphone available")
	ErrUnknownQualityTier        = errors.New("unknown quality tier")
	ErrManagerClosed             = errors.New("call manager closed")
	ErrInvalidSessionDescription = errors.New("invalid session description")
	ErrUnsupportedTrack          = errors.New("unsupported track implementation")
	ErrCredentialsUnavailable    = errors.New("turn credentials unavailable")
	ErrRoomFull                  = errors.New("room is full")
)
