package roster

import (
	"context"

	"github.com/RustamovAkrom/minichat/internal/domain"
)

// Roster is the authorization contract supplied by the outer admin plane.
// The delivery core reads it at connect and append time and never mutates
// it; rooms and memberships are created elsewhere.
type Roster interface {
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	Members(ctx context.Context, roomID string) ([]domain.Membership, error)
}

// Writer is the admin-plane surface used to seed rooms. It lives here so
// the outer plane and tests share one implementation; the core itself only
// depends on Roster.
type Writer interface {
	SaveRoom(ctx context.Context, room domain.Room, members []domain.Membership) error
}
