package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"agentline/internal/domain"
	"agentline/internal/engine/auth"
	"agentline/internal/repo"
)

const apiKeyPrefix = "al_"

// CreateAPIKey issues a key for userID. The plaintext is returned once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if err := requireText("user_id", userID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        domain.NewID(domain.PrefixAPIKey),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	if err := e.Store.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	if err := requireText("user_id", userID); err != nil {
		return nil, err
	}
	return e.Store.ListAPIKeys(ctx, userID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, userID, id string) error {
	if err := auth.CheckID(domain.PrefixAPIKey, id); err != nil {
		return err
	}
	keys, err := e.Store.ListAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == id {
			return e.Store.DeleteAPIKey(ctx, id)
		}
	}
	return auth.AccessDeniedError{Kind: domain.PrefixAPIKey, ID: id}
}

// Authenticate resolves a plaintext API key to its owner.
func (e Engine) Authenticate(ctx context.Context, plain string) (string, error) {
	key, err := e.Store.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return "", err
	}
	return key.UserID, nil
}

// ListEvents pages through the caller's lifecycle events in id order.
func (e Engine) ListEvents(ctx context.Context, userID, agentID string, afterID int64, limit int) ([]domain.Event, error) {
	if agentID != "" {
		if _, err := e.GetAgent(ctx, userID, agentID); err != nil {
			return nil, err
		}
	}
	return e.Store.ListEvents(ctx, repo.EventFilter{UserID: userID, AgentID: agentID, AfterID: afterID, Limit: limit})
}
