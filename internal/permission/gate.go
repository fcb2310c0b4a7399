package permission

import (
	"context"
	"errors"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
)

// Directory resolves an actor id to its role and associated ids.
type Directory interface {
	Actor(ctx context.Context, actorID string) (*models.Actor, error)
}

type key struct {
	action   Action
	resource Resource
}

type Gate struct {
	directory Directory
	rules     map[models.Role][]Rule
	known     map[key]bool
	logger    logger.Logger
}

func NewGate(directory Directory, rules map[models.Role][]Rule, log logger.Logger) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	known := make(map[key]bool)
	for _, rs := range rules {
		for _, r := range rs {
			known[key{r.Action, r.Resource}] = true
		}
	}
	return &Gate{
		directory: directory,
		rules:     rules,
		known:     known,
		logger:    logger.ForComponent(log, "permission"),
	}
}

// Check reports whether actorID may perform p. A missing actor or a failed
// condition is a plain false. An action/resource pair that no role knows is
// malformed input and returns ErrUnknownPermission.
func (g *Gate) Check(ctx context.Context, actorID string, p Permission) (bool, error) {
	if !g.known[key{p.Action, p.Resource}] {
		return false, apperr.NewUnknownPermissionError(string(p.Action), string(p.Resource))
	}
	if actorID == "" {
		return false, nil
	}

	actor, err := g.directory.Actor(ctx, actorID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, rule := range g.rules[actor.Role] {
		if rule.Action != p.Action || rule.Resource != p.Resource {
			continue
		}
		if rule.Conditions.satisfied(actor, p.Target) {
			return true, nil
		}
	}

	g.logger.Debug("permission denied", map[string]interface{}{
		"actorId":  actorID,
		"role":     actor.Role,
		"action":   p.Action,
		"resource": p.Resource,
	})
	return false, nil
}

// Require is Check with a denial turned into ErrAuthorizationDenied.
func (g *Gate) Require(ctx context.Context, actorID string, p Permission) error {
	ok, err := g.Check(ctx, actorID, p)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NewAuthorizationDeniedError(actorID, string(p.Action), string(p.Resource))
	}
	return nil
}

// ForDocument builds the target of a document-scoped permission.
func ForDocument(doc *models.Document) Target {
	return Target{PropertyID: doc.PropertyID, UserID: doc.TenantID}
}
