package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"

	"aocr/internal/domain"
	"aocr/internal/repo"
)

const apiKeyPrefix = "aocr_"

// IssueAPIKey creates a key for actorID and returns the plaintext once.
// Actors may issue keys for themselves; administrators for anyone.
func (s Service) IssueAPIKey(ctx context.Context, actorID, name, grantorID string) (string, domain.APIKey, error) {
	actorID, grantorID = strings.TrimSpace(actorID), strings.TrimSpace(grantorID)
	if actorID == "" {
		actorID = grantorID
	}
	if actorID == "" {
		return "", domain.APIKey{}, errors.New("actor_id required")
	}
	if actorID == SystemActorID {
		return "", domain.APIKey{}, errors.New("keys cannot be issued to the system actor")
	}
	if actorID != grantorID {
		if err := s.requireAdmin(ctx, grantorID); err != nil {
			return "", domain.APIKey{}, err
		}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: s.now(),
	}
	if err := s.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// Authenticate resolves a plaintext key to its actor.
func (s Service) Authenticate(ctx context.Context, plain string) (domain.APIKey, error) {
	if strings.TrimSpace(plain) == "" {
		return domain.APIKey{}, errors.New("api key required")
	}
	return s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
}

// RevokeAPIKey deletes a key owned by grantorID, or any key for administrators.
func (s Service) RevokeAPIKey(ctx context.Context, id, grantorID string) error {
	keys, err := s.Repo.ListAPIKeys(ctx, grantorID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == id {
			return s.Repo.DeleteAPIKey(ctx, id)
		}
	}
	if err := s.requireAdmin(ctx, grantorID); err != nil {
		return err
	}
	return s.Repo.DeleteAPIKey(ctx, id)
}

func (s Service) requireAdmin(ctx context.Context, actorID string) error {
	roles, err := s.RolesOf(ctx, actorID)
	if err != nil {
		return err
	}
	if !HasRole(roles, AdminRole) {
		return ForbiddenError{Role: AdminRole}
	}
	return nil
}
