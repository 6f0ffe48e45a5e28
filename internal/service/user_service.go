package service

import (
	"context"
	"errors"
	"fmt"

	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/rs/zerolog"
)

// UserService owns the user directory and fleet: it seeds both from
// configuration and resolves request identities to actors.
type UserService struct {
	repo   domain.Repository
	logger *zerolog.Logger
}

func NewUserService(repo domain.Repository, logger *zerolog.Logger) *UserService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UserService{repo: repo, logger: logger}
}

// Seed upserts the configured users and vehicles. Vehicle availability is
// left as stored so a restart does not free reserved vehicles.
func (s *UserService) Seed(ctx context.Context, users []models.User, fleet []models.Vehicle) error {
	for i := range users {
		u := users[i]
		if err := s.repo.UpsertUser(ctx, &u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for i := range fleet {
		v := fleet[i]
		if err := s.repo.UpsertVehicle(ctx, &v); err != nil {
			return fmt.Errorf("seed vehicle %s: %w", v.ID, err)
		}
	}
	s.logger.Info().Int("users", len(users)).Int("vehicles", len(fleet)).Msg("directory seeded")
	return nil
}

// ResolveActor maps an authenticated user id to the actor used for
// authorization. The role always comes from storage.
func (s *UserService) ResolveActor(ctx context.Context, userID string) (models.Actor, error) {
	if userID == "" {
		return models.Actor{}, fmt.Errorf("%w: empty user id", domain.ErrInsufficientRole)
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Actor{}, fmt.Errorf("%w: unknown user %s", domain.ErrInsufficientRole, userID)
		}
		return models.Actor{}, err
	}
	return models.Actor{UserID: user.ID, Role: user.Role}, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *UserService) GetDrivers(ctx context.Context) ([]*models.User, error) {
	return s.repo.GetUsersByRole(ctx, models.RoleDriver)
}

func (s *UserService) GetVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	return s.repo.GetVehicles(ctx)
}
