package repository

import (
	"context"
	"sync"
	"time"

	"github.com/metinatakli/coursehub/internal/domain"
)

type attributionKeyParts struct {
	userID  int
	ownerID int
}

type storedAttribution struct {
	attribution domain.Attribution
	expiresAt   time.Time
}

// MemoryAttributionStore keeps referral clicks in process. Expiry is checked
// on read against the wall clock, like a TTL would be.
type MemoryAttributionStore struct {
	mu    sync.Mutex
	items map[attributionKeyParts]storedAttribution
}

func NewMemoryAttributionStore() *MemoryAttributionStore {
	return &MemoryAttributionStore{
		items: make(map[attributionKeyParts]storedAttribution),
	}
}

func (s *MemoryAttributionStore) Save(
	ctx context.Context,
	userID int,
	attribution domain.Attribution,
	ttl time.Duration) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[attributionKeyParts{userID: userID, ownerID: attribution.OwnerID}] = storedAttribution{
		attribution: attribution,
		expiresAt:   time.Now().Add(ttl),
	}

	return nil
}

func (s *MemoryAttributionStore) Get(ctx context.Context, userID, ownerID int) (*domain.Attribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[attributionKeyParts{userID: userID, ownerID: ownerID}]
	if !ok || time.Now().After(stored.expiresAt) {
		return nil, domain.ErrRecordNotFound
	}

	a := stored.attribution
	return &a, nil
}

var _ domain.AttributionStore = (*MemoryAttributionStore)(nil)
