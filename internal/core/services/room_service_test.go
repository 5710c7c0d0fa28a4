package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishParticipantJoined(ctx context.Context, room domain.RoomID, peerID domain.PeerID) error {
	return m.Called(ctx, room, peerID).Error(0)
}

func (m *MockPublisher) PublishParticipantLeft(ctx context.Context, room domain.RoomID, peerID domain.PeerID) error {
	return m.Called(ctx, room, peerID).Error(0)
}

// stubMesh implements only what the room service calls.
type stubMesh struct {
	ports.Mesh

	mu      sync.Mutex
	removed []domain.PeerID
	closed  int
}

func (s *stubMesh) RemovePeer(peerID domain.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, peerID)
}

func (s *stubMesh) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type forgettingMetrics struct {
	ports.CallMetrics
	forgotten []domain.PeerID
}

func (f *forgettingMetrics) ForgetPeer(peerID domain.PeerID) {
	f.forgotten = append(f.forgotten, peerID)
}

func newTestRoomService(t *testing.T, pubs ...ports.ParticipantPublisher) (*RoomService, map[domain.RoomID]*stubMesh) {
	meshes := make(map[domain.RoomID]*stubMesh)
	factory := func(id domain.RoomID) ports.Mesh {
		m := &stubMesh{}
		meshes[id] = m
		return m
	}
	svc := NewRoomService(factory, pubs, nil, time.Minute, 2, zaptest.NewLogger(t).Sugar())
	return svc, meshes
}

func TestRoomService_JoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("join creates room and announces once", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("PublishParticipantJoined", ctx, domain.RoomID("standup"), domain.PeerID("alice")).Return(nil).Once()
		svc, meshes := newTestRoomService(t, pub)

		first, err := svc.Join(ctx, "standup", "alice")
		require.NoError(t, err)
		again, err := svc.Join(ctx, "standup", "alice")
		require.NoError(t, err)

		assert.Same(t, first, again)
		assert.Len(t, meshes, 1)
		pub.AssertExpectations(t)
	})

	t.Run("room capacity", func(t *testing.T) {
		svc, _ := newTestRoomService(t)
		_, err := svc.Join(ctx, "standup", "alice")
		require.NoError(t, err)
		_, err = svc.Join(ctx, "standup", "bob")
		require.NoError(t, err)

		_, err = svc.Join(ctx, "standup", "carol")
		assert.ErrorIs(t, err, domain.ErrRoomFull)
	})

	t.Run("leave removes peer and announces", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("PublishParticipantJoined", ctx, mock.Anything, mock.Anything).Return(nil)
		pub.On("PublishParticipantLeft", ctx, domain.RoomID("standup"), domain.PeerID("alice")).Return(errors.New("redis down"))
		metrics := &forgettingMetrics{}
		svc, meshes := newTestRoomService(t, pub)
		svc.metrics = metrics

		_, err := svc.Join(ctx, "standup", "alice")
		require.NoError(t, err)
		require.NoError(t, svc.Leave(ctx, "standup", "alice"), "publish failures are logged, not returned")

		assert.Equal(t, []domain.PeerID{"alice"}, meshes["standup"].removed)
		assert.Equal(t, []domain.PeerID{"alice"}, metrics.forgotten)
		pub.AssertExpectations(t)

		assert.ErrorIs(t, svc.Leave(ctx, "standup", "alice"), domain.ErrPeerNotFound)
		assert.ErrorIs(t, svc.Leave(ctx, "retro", "alice"), domain.ErrRoomNotFound)
	})
}

func TestRoomService_Lookup(t *testing.T) {
	svc, _ := newTestRoomService(t)
	_, err := svc.Room("standup")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = svc.Join(context.Background(), "standup", "bob")
	require.NoError(t, err)
	_, err = svc.Join(context.Background(), "standup", "alice")
	require.NoError(t, err)

	_, err = svc.Room("standup")
	require.NoError(t, err)

	rooms := svc.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, []domain.PeerID{"alice", "bob"}, rooms[0].Participants)
}

func TestRoomService_SweepIdle(t *testing.T) {
	ctx := context.Background()
	svc, meshes := newTestRoomService(t)
	now := time.Now()
	svc.now = func() time.Time { return now }

	_, err := svc.Join(ctx, "empty", "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Leave(ctx, "empty", "alice"))
	_, err = svc.Join(ctx, "busy", "bob")
	require.NoError(t, err)

	assert.Zero(t, svc.SweepIdle(), "rooms within the TTL stay open")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, svc.SweepIdle())
	assert.Equal(t, 1, meshes["empty"].closed)
	assert.Zero(t, meshes["busy"].closed, "rooms with participants are never swept")

	_, err = svc.Room("empty")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomService_Close(t *testing.T) {
	svc, meshes := newTestRoomService(t)
	for _, id := range []domain.RoomID{"a", "b", "c"} {
		_, err := svc.Join(context.Background(), id, "peer")
		require.NoError(t, err)
	}

	require.NoError(t, svc.Close())
	for id, m := range meshes {
		assert.Equal(t, 1, m.closed, "room %s", id)
	}
	assert.Empty(t, svc.Rooms())
}
