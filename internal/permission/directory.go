package permission

import (
	"context"
	"strings"
	"sync"
	"time"

	"rental-docflow/internal/common/auth"
	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
)

const actorCachePrefix = "docflow:actor:"

// Keycloak user attributes carrying the platform associations.
const (
	attrOwnedProperties    = "property_ids"
	attrAssignedProperties = "assigned_property_ids"
	attrVendorID           = "vendor_id"
	attrPhone              = "phone"
)

// rolePrecedence picks one platform role when a user holds several realm roles.
var rolePrecedence = []models.Role{
	models.RoleAdmin, models.RoleLandlord, models.RoleSuper, models.RoleVendor, models.RoleTenant,
}

// UserSource is the subset of the Keycloak admin client the directory uses.
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*auth.User, error)
	GetRealmRoles(ctx context.Context, userID string) ([]string, error)
}

// KeycloakDirectory resolves actors from Keycloak and caches them in Redis.
type KeycloakDirectory struct {
	source UserSource
	cache  *database.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

func NewKeycloakDirectory(source UserSource, cache *database.RedisClient, ttl time.Duration, log logger.Logger) *KeycloakDirectory {
	return &KeycloakDirectory{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger.ForComponent(log, "actor-directory"),
	}
}

func (d *KeycloakDirectory) Actor(ctx context.Context, actorID string) (*models.Actor, error) {
	key := actorCachePrefix + actorID
	if d.cache != nil {
		var cached models.Actor
		found, err := d.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			d.logger.Warn("actor cache read failed", map[string]interface{}{"actorId": actorID, "error": err})
		} else if found {
			return &cached, nil
		}
	}

	user, err := d.source.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	roles, err := d.source.GetRealmRoles(ctx, actorID)
	if err != nil {
		return nil, err
	}
	role, ok := pickRole(roles)
	if !ok {
		return nil, apperr.NewNotFoundError("actor role", actorID)
	}

	actor := &models.Actor{
		ID:                  user.ID,
		Role:                role,
		Email:               user.Email,
		Name:                strings.TrimSpace(user.FirstName + " " + user.LastName),
		OwnedPropertyIDs:    splitValues(user.Attribute(attrOwnedProperties)),
		AssignedPropertyIDs: splitValues(user.Attribute(attrAssignedProperties)),
	}
	if v := user.Attribute(attrVendorID); len(v) > 0 {
		actor.VendorID = v[0]
	}
	if v := user.Attribute(attrPhone); len(v) > 0 {
		actor.Phone = v[0]
	}

	if d.cache != nil {
		if err := d.cache.SetJSON(ctx, key, actor, d.ttl); err != nil {
			d.logger.Warn("actor cache write failed", map[string]interface{}{"actorId": actorID, "error": err})
		}
	}
	return actor, nil
}

// Invalidate drops the cached actor after its associations change.
func (d *KeycloakDirectory) Invalidate(ctx context.Context, actorID string) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.Release(ctx, actorCachePrefix+actorID)
}

func pickRole(realmRoles []string) (models.Role, bool) {
	held := make(map[models.Role]bool, len(realmRoles))
	for _, r := range realmRoles {
		held[models.Role(strings.ToLower(r))] = true
	}
	for _, r := range rolePrecedence {
		if held[r] {
			return r, true
		}
	}
	return "", false
}

// splitValues accepts both multi-valued attributes and comma separated ones.
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// StaticDirectory serves a fixed set of actors. Used for local runs and tests.
type StaticDirectory struct {
	mu     sync.RWMutex
	actors map[string]models.Actor
}

func NewStaticDirectory(actors ...models.Actor) *StaticDirectory {
	d := &StaticDirectory{actors: make(map[string]models.Actor, len(actors))}
	for _, a := range actors {
		d.actors[a.ID] = a
	}
	return d
}

func (d *StaticDirectory) Put(actor models.Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actor.ID] = actor
}

func (d *StaticDirectory) Actor(_ context.Context, actorID string) (*models.Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[actorID]
	if !ok {
		return nil, apperr.NewNotFoundError("actor", actorID)
	}
	return &a, nil
}
