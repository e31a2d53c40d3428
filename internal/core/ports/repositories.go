package ports

import (
	"context"

	"screenlink/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByCode(ctx context.Context, code domain.AccessCode) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, code domain.AccessCode) error
	List(ctx context.Context) ([]*domain.Room, error)
}
