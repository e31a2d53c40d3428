package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.AccessCode]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.AccessCode]*domain.Room),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Code]; exists {
		return fmt.Errorf("room %s: %w", room.Code, domain.ErrSessionBusy)
	}

	stored := *room
	r.rooms[room.Code] = &stored
	return nil
}

// GetByCode returns a copy; mutate through Update.
func (r *MemoryRoomRepository) GetByCode(ctx context.Context, code domain.AccessCode) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[code]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	out := *room
	return &out, nil
}

func (r *MemoryRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Code]; !exists {
		return domain.ErrSessionNotFound
	}

	stored := *room
	r.rooms[room.Code] = &stored
	return nil
}

func (r *MemoryRoomRepository) Delete(ctx context.Context, code domain.AccessCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[code]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.rooms, code)
	return nil
}

// List returns rooms oldest first.
func (r *MemoryRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out := *room
		rooms = append(rooms, &out)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	return rooms, nil
}
