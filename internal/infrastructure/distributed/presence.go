package distributed

import (
	"context"
	"fmt"
	"time"

	"rillcall/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const defaultPresenceTTL = 10 * time.Minute

// Presence tracks room membership across call nodes. Each room is a Redis set
// that expires when no node refreshes it.
type Presence struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewPresence(client redis.Cmdable, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) PublishParticipantJoined(ctx context.Context, room domain.RoomID, peerID domain.PeerID) error {
	key := roomKey(room)
	if err := p.client.SAdd(ctx, key, string(peerID)).Err(); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	if err := p.client.Expire(ctx, key, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh room: %w", err)
	}
	return nil
}

func (p *Presence) PublishParticipantLeft(ctx context.Context, room domain.RoomID, peerID domain.PeerID) error {
	if err := p.client.SRem(ctx, roomKey(room), string(peerID)).Err(); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// Members lists participants of room on every node.
func (p *Presence) Members(ctx context.Context, room domain.RoomID) ([]domain.PeerID, error) {
	ids, err := p.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}
	members := make([]domain.PeerID, len(ids))
	for i, id := range ids {
		members[i] = domain.PeerID(id)
	}
	return members, nil
}

func roomKey(room domain.RoomID) string {
	return fmt.Sprintf("rillcall:room:%s:peers", room)
}
