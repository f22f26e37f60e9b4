package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/repository"
)

// AdminService holds the superadmin-only mutations: role assignment and user
// deletion with its session cascade.
type AdminService struct {
	users    *repository.UserRepo
	sessions *repository.SessionRepo
	redis    *redis.Client
}

func NewAdminService(users *repository.UserRepo, sessions *repository.SessionRepo, redisClient *redis.Client) *AdminService {
	return &AdminService{
		users:    users,
		sessions: sessions,
		redis:    redisClient,
	}
}

func (s *AdminService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

func (s *AdminService) SetRole(ctx context.Context, userID uuid.UUID, role string) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, &ValidationError{Fields: map[string]string{"role": "Role must be user, admin, or superadmin"}}
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, err
	}

	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// DeleteUser removes the user's sessions first, then the identity record, so
// a feed observing mid-cascade sees sessions disappear before the user does.
func (s *AdminService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Message: "User not found"}
		}
		return err
	}

	removed, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	log.Printf("deleted user %s and %d session(s)", userID, removed)

	payload, err := json.Marshal(map[string]string{
		"type":    "user.deleted",
		"user_id": userID.String(),
	})
	if err != nil {
		return nil
	}
	s.redis.Publish(ctx, FeedChannelUser(userID), payload)
	s.redis.Publish(ctx, FeedChannelAll, payload)
	return nil
}
