package permission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rental-docflow/internal/common/auth"
	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
)

func testDirectory() *StaticDirectory {
	return NewStaticDirectory(
		models.Actor{ID: "admin-1", Role: models.RoleAdmin},
		models.Actor{ID: "landlord-1", Role: models.RoleLandlord, OwnedPropertyIDs: []string{"prop-1"}},
		models.Actor{ID: "tenant-1", Role: models.RoleTenant},
		models.Actor{ID: "super-1", Role: models.RoleSuper, AssignedPropertyIDs: []string{"prop-1"}},
		models.Actor{ID: "vendor-user", Role: models.RoleVendor, VendorID: "vendor-9"},
	)
}

func TestCheck(t *testing.T) {
	gate := NewGate(testDirectory(), nil, logger.NewNoOpLogger())
	doc := Target{PropertyID: "prop-1", UserID: "tenant-1"}
	other := Target{PropertyID: "prop-2", UserID: "tenant-2"}

	tests := []struct {
		name    string
		actor   string
		perm    Permission
		allowed bool
	}{
		{"admin approves anything", "admin-1", Permission{ActionApprove, ResourceWorkflow, other}, true},
		{"landlord approves own property", "landlord-1", Permission{ActionApprove, ResourceWorkflow, doc}, true},
		{"landlord cannot approve foreign property", "landlord-1", Permission{ActionApprove, ResourceWorkflow, other}, false},
		{"tenant signs own request", "tenant-1", Permission{ActionSign, ResourceSignature, doc}, true},
		{"tenant cannot sign for another tenant", "tenant-1", Permission{ActionSign, ResourceSignature, other}, false},
		{"tenant cannot approve", "tenant-1", Permission{ActionApprove, ResourceWorkflow, doc}, false},
		{"super views assigned property", "super-1", Permission{ActionView, ResourceDocument, doc}, true},
		{"super cannot view other property", "super-1", Permission{ActionView, ResourceDocument, other}, false},
		{"vendor views own vendor work", "vendor-user", Permission{ActionView, ResourceDocument, Target{VendorID: "vendor-9"}}, true},
		{"vendor with no vendor target", "vendor-user", Permission{ActionView, ResourceDocument, doc}, false},
		{"unknown actor is denied", "ghost", Permission{ActionView, ResourceDocument, doc}, false},
		{"empty actor is denied", "", Permission{ActionView, ResourceDocument, doc}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := gate.Check(context.Background(), tt.actor, tt.perm)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, ok)
		})
	}
}

func TestCheck_UnknownPermissionIsAnError(t *testing.T) {
	gate := NewGate(testDirectory(), nil, logger.NewNoOpLogger())

	_, err := gate.Check(context.Background(), "admin-1", Permission{Action: "delete", Resource: ResourceAuditLog})
	assert.ErrorIs(t, err, apperr.ErrUnknownPermission)
}

func TestRequire(t *testing.T) {
	gate := NewGate(testDirectory(), nil, logger.NewNoOpLogger())

	err := gate.Require(context.Background(), "tenant-1", Permission{ActionRenew, ResourceDocument, Target{UserID: "tenant-1"}})
	assert.ErrorIs(t, err, apperr.ErrAuthorizationDenied)

	assert.NoError(t, gate.Require(context.Background(), "landlord-1",
		Permission{ActionRenew, ResourceDocument, Target{PropertyID: "prop-1"}}))
}

type mockUserSource struct {
	mock.Mock
}

func (m *mockUserSource) GetUser(ctx context.Context, id string) (*auth.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *mockUserSource) GetRealmRoles(ctx context.Context, id string) ([]string, error) {
	args := m.Called(ctx, id)
	roles, _ := args.Get(0).([]string)
	return roles, args.Error(1)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *database.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, database.NewRedisFromClient(client)
}

func TestKeycloakDirectory_MapsAttributesAndCaches(t *testing.T) {
	mr, cache := newMiniRedis(t)
	src := new(mockUserSource)
	src.On("GetUser", mock.Anything, "user-1").Return(&auth.User{
		ID: "user-1", Email: "ll@example.com", FirstName: "Lee", LastName: "Lord",
		Attributes: map[string][]string{
			"property_ids": {"prop-1, prop-2"},
			"phone":        {"+15550100"},
		},
	}, nil).Once()
	src.On("GetRealmRoles", mock.Anything, "user-1").Return([]string{"offline_access", "tenant", "Landlord"}, nil).Once()

	dir := NewKeycloakDirectory(src, cache, time.Minute, logger.NewNoOpLogger())

	actor, err := dir.Actor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleLandlord, actor.Role)
	assert.Equal(t, []string{"prop-1", "prop-2"}, actor.OwnedPropertyIDs)
	assert.Equal(t, "+15550100", actor.Phone)
	assert.Equal(t, "Lee Lord", actor.Name)
	assert.True(t, mr.Exists("docflow:actor:user-1"))

	cached, err := dir.Actor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, actor, cached)
	src.AssertExpectations(t)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("docflow:actor:user-1"))
}

func TestKeycloakDirectory_NoPlatformRole(t *testing.T) {
	src := new(mockUserSource)
	src.On("GetUser", mock.Anything, "user-2").Return(&auth.User{ID: "user-2"}, nil)
	src.On("GetRealmRoles", mock.Anything, "user-2").Return([]string{"offline_access"}, nil)

	gate := NewGate(NewKeycloakDirectory(src, nil, time.Minute, logger.NewNoOpLogger()), nil, logger.NewNoOpLogger())
	ok, err := gate.Check(context.Background(), "user-2", Permission{ActionView, ResourceDocument, Target{PropertyID: "prop-1"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeycloakDirectory_SourceFailurePropagates(t *testing.T) {
	src := new(mockUserSource)
	src.On("GetUser", mock.Anything, "user-3").Return(nil, apperr.NewExternalServiceUnavailableError("keycloak", errors.New("dial tcp")))

	gate := NewGate(NewKeycloakDirectory(src, nil, time.Minute, logger.NewNoOpLogger()), nil, logger.NewNoOpLogger())
	_, err := gate.Check(context.Background(), "user-3", Permission{ActionView, ResourceDocument, Target{}})
	assert.ErrorIs(t, err, apperr.ErrExternalServiceUnavailable)
}

func TestKeycloakDirectory_CacheOutageFallsThrough(t *testing.T) {
	client, redisMock := redismock.NewClientMock()
	src := new(mockUserSource)
	src.On("GetUser", mock.Anything, "user-4").Return(&auth.User{ID: "user-4", FirstName: "Tia"}, nil)
	src.On("GetRealmRoles", mock.Anything, "user-4").Return([]string{"tenant"}, nil)

	want := models.Actor{ID: "user-4", Role: models.RoleTenant, Name: "Tia"}
	raw, err := json.Marshal(&want)
	require.NoError(t, err)
	redisMock.ExpectGet("docflow:actor:user-4").SetErr(errors.New("connection refused"))
	redisMock.ExpectSet("docflow:actor:user-4", raw, time.Minute).SetErr(errors.New("connection refused"))

	dir := NewKeycloakDirectory(src, database.NewRedisFromClient(client), time.Minute, logger.NewNoOpLogger())
	actor, err := dir.Actor(context.Background(), "user-4")
	require.NoError(t, err)
	assert.Equal(t, &want, actor)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestKeycloakDirectory_Invalidate(t *testing.T) {
	client, redisMock := redismock.NewClientMock()
	redisMock.ExpectDel("docflow:actor:user-5").SetVal(1)

	dir := NewKeycloakDirectory(new(mockUserSource), database.NewRedisFromClient(client), time.Minute, logger.NewNoOpLogger())
	require.NoError(t, dir.Invalidate(context.Background(), "user-5"))
	assert.NoError(t, redisMock.ExpectationsWereMet())

	assert.NoError(t, NewKeycloakDirectory(new(mockUserSource), nil, time.Minute, logger.NewNoOpLogger()).
		Invalidate(context.Background(), "user-5"))
}
