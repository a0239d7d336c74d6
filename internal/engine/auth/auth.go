package auth

import (
	"errors"
	"fmt"
	"strings"

	"agentline/internal/domain"
	"agentline/internal/repo"
)

// AccessDeniedError indicates the caller does not own the entity.
// Its message is deliberately identical for missing and foreign entities.
type AccessDeniedError struct {
	Kind string
	ID   string
}

func (e AccessDeniedError) Error() string {
	return "Access denied"
}

// InvalidIDError indicates an id without the expected type prefix.
type InvalidIDError struct {
	Kind string
	ID   string
}

func (e InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s id %q: expected %s-<id>", e.Kind, e.ID, e.Kind)
}

// CheckID validates the type tag of id before any lookup.
func CheckID(kind, id string) error {
	if !domain.HasPrefix(id, kind) {
		return InvalidIDError{Kind: kind, ID: id}
	}
	return nil
}

// EnsureOwner rejects callers other than ownerID.
func EnsureOwner(kind, id, ownerID, userID string) error {
	if strings.TrimSpace(userID) == "" || ownerID != userID {
		return AccessDeniedError{Kind: kind, ID: id}
	}
	return nil
}

// Owned folds a lookup error and an ownership check into one result.
// Not-found is reported as access denied so callers cannot learn which ids exist.
func Owned(kind, id, ownerID, userID string, lookupErr error) error {
	if errors.Is(lookupErr, repo.ErrNotFound) {
		return AccessDeniedError{Kind: kind, ID: id}
	}
	if lookupErr != nil {
		return lookupErr
	}
	return EnsureOwner(kind, id, ownerID, userID)
}
