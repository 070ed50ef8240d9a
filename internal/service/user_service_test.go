package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usermodel/internal/apperr"
	"github.com/usermodel/internal/database/dbtest"
	"github.com/usermodel/internal/events"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/models"
	"github.com/usermodel/internal/repository"
	"github.com/usermodel/internal/service"
	"gorm.io/gorm"
)

type prefixHasher struct{}

func (prefixHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("hasher down") }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	db    *gorm.DB
	svc   *service.UserService
	pub   *recordingPublisher
	roles map[string]uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)

	roleRepo := repository.NewRoleRepository(db)
	roles := map[string]uint{}
	for _, name := range []string{models.RoleAdmin, models.RoleUser, models.RoleData} {
		r := &models.Role{Name: name}
		require.NoError(t, roleRepo.Create(context.Background(), nil, r))
		roles[name] = r.ID
	}

	pub := &recordingPublisher{}
	svc := service.NewUserService(
		db,
		repository.NewUserRepository(db),
		repository.NewUseremailRepository(db),
		roleRepo,
		repository.NewUserRoleRepository(db),
		prefixHasher{},
		pub,
		logger.Nop(),
	)
	return &fixture{db: db, svc: svc, pub: pub, roles: roles}
}

func emails(addrs ...string) []service.EmailInput {
	out := make([]service.EmailInput, len(addrs))
	for i, a := range addrs {
		out[i] = service.EmailInput{Email: a}
	}
	return out
}

func roleLinks(ids ...uint) []service.RoleLinkInput {
	out := make([]service.RoleLinkInput, len(ids))
	for i, id := range ids {
		out[i] = service.RoleLinkInput{Role: service.RoleRef{RoleID: id}}
	}
	return out
}

func emailSet(u *models.User) []string {
	out := make([]string, len(u.Useremails))
	for i, e := range u.Useremails {
		out[i] = e.Email
	}
	return out
}

func roleSet(u *models.User) []uint {
	out := make([]uint, len(u.Roles))
	for i, r := range u.Roles {
		out[i] = r.RoleID
	}
	return out
}

func (f *fixture) countRows(t *testing.T, model interface{}, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestAliceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Insert(ctx, &service.UserInput{
		Username:   "alice",
		Password:   "pw",
		Useremails: emails("a@x.com"),
		Roles:      roleLinks(f.roles[models.RoleUser]),
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := f.svc.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []string{"a@x.com"}, emailSet(got))
	assert.Equal(t, []uint{f.roles[models.RoleUser]}, roleSet(got))
	assert.Equal(t, models.RoleUser, got.Roles[0].Role.Name)

	_, err = f.svc.PartialUpdate(ctx, created.ID, &service.UserPatch{Username: nullable.NewNullableWithValue("alice2")})
	require.NoError(t, err)

	got, err = f.svc.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)
	assert.Equal(t, []string{"a@x.com"}, emailSet(got))
	assert.Equal(t, []uint{f.roles[models.RoleUser]}, roleSet(got))

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	_, err = f.svc.FindByID(ctx, created.ID)
	assert.True(t, apperr.IsNotFound(err))

	assert.Equal(t, []events.Type{events.UserCreated, events.UserUpdated, events.UserDeleted}, f.pub.types())
}

func TestInsertAssignsFreshIDsAndNormalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Insert(ctx, &service.UserInput{Username: "first", Password: "pw"})
	require.NoError(t, err)

	second, err := f.svc.Insert(ctx, &service.UserInput{
		Username:   "  Number 1 Test User ",
		Password:   "pass",
		Useremails: emails(" NewTest@LambdaSchool.local ", "newtest@lambdaschool.local", "other@x.com"),
		Roles:      roleLinks(f.roles[models.RoleData], f.roles[models.RoleData], f.roles[models.RoleAdmin]),
	})
	require.NoError(t, err)

	assert.NotZero(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "number 1 test user", second.Username)
	assert.Equal(t, "hashed:pass", second.Password)
	assert.Equal(t, []string{"newtest@lambdaschool.local", "other@x.com"}, emailSet(second))
	assert.Equal(t, "newtest@lambdaschool.local", second.PrimaryEmail)
	for _, e := range second.Useremails {
		assert.NotZero(t, e.ID)
	}
	assert.ElementsMatch(t, []uint{f.roles[models.RoleAdmin], f.roles[models.RoleData]}, roleSet(second))
}

func TestInsertDuplicateUsernameConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Insert(ctx, &service.UserInput{Username: "cinnamon", Password: "pw"})
	require.NoError(t, err)

	_, err = f.svc.Insert(ctx, &service.UserInput{Username: "CINNAMON", Password: "pw"})
	assert.True(t, apperr.IsConflict(err), "got %v", err)
	assert.Len(t, f.pub.types(), 1)
}

func TestInsertUnknownRoleIsNotFoundAndRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Insert(ctx, &service.UserInput{
		Username:   "bob",
		Password:   "pw",
		Useremails: emails("bob@x.com"),
		Roles:      roleLinks(f.roles[models.RoleUser], 999),
	})
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "role", nf.Resource)
	assert.EqualValues(t, 999, nf.Key)

	_, err = f.svc.FindByName(ctx, "bob")
	assert.True(t, apperr.IsNotFound(err))
	var emailsLeft int64
	require.NoError(t, f.db.Model(&models.Useremail{}).Count(&emailsLeft).Error)
	assert.Zero(t, emailsLeft)
}

func TestInsertValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]*service.UserInput{
		"blank username":   {Username: "   ", Password: "pw"},
		"missing password": {Username: "x"},
		"bad email":        {Username: "x", Password: "pw", Useremails: emails("not-an-email")},
		"zero role id":     {Username: "x", Password: "pw", Roles: roleLinks(0)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Insert(ctx, in)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}

	_, err := f.svc.Insert(ctx, nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestInsertHasherFailure(t *testing.T) {
	db := dbtest.Open(t)
	svc := service.NewUserService(db,
		repository.NewUserRepository(db), repository.NewUseremailRepository(db),
		repository.NewRoleRepository(db), repository.NewUserRoleRepository(db),
		failingHasher{}, nil, logger.Nop())

	_, err := svc.Insert(context.Background(), &service.UserInput{Username: "x", Password: "pw"})
	assert.ErrorContains(t, err, "hasher down")
}

func TestFullReplaceReplacesEverythingAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{
		Username:   "test barnbarn",
		Password:   "ILuvM4th!",
		Useremails: emails("barnbarn@email.local", "old@email.local"),
		Roles:      roleLinks(f.roles[models.RoleUser], f.roles[models.RoleAdmin]),
	})
	require.NoError(t, err)

	payload := &service.UserInput{
		Username:   "Number 9999 Test User",
		Password:   "pass",
		Useremails: emails("newtest99@lambdaschool.local"),
		Roles:      roleLinks(f.roles[models.RoleData]),
	}
	for i := 0; i < 2; i++ {
		_, err = f.svc.FullReplace(ctx, u.ID, payload)
		require.NoError(t, err)

		got, err := f.svc.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "number 9999 test user", got.Username)
		assert.Equal(t, "hashed:pass", got.Password)
		assert.Equal(t, []string{"newtest99@lambdaschool.local"}, emailSet(got))
		assert.Equal(t, []uint{f.roles[models.RoleData]}, roleSet(got))
	}

	assert.EqualValues(t, 1, f.countRows(t, &models.Useremail{}, u.ID))
	assert.EqualValues(t, 1, f.countRows(t, &models.UserRole{}, u.ID))
}

func TestFullReplaceWithEmptyCollectionsClearsThem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{
		Username: "alice", Password: "pw",
		Useremails: emails("a@x.com"), Roles: roleLinks(f.roles[models.RoleUser]),
	})
	require.NoError(t, err)

	got, err := f.svc.FullReplace(ctx, u.ID, &service.UserInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Empty(t, got.Useremails)
	assert.Empty(t, got.Roles)
	assert.Empty(t, got.PrimaryEmail)
}

func TestFullReplaceErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FullReplace(ctx, 404, &service.UserInput{Username: "ghost", Password: "pw"})
	assert.True(t, apperr.IsNotFound(err))

	a, err := f.svc.Insert(ctx, &service.UserInput{Username: "alice", Password: "pw", Useremails: emails("a@x.com")})
	require.NoError(t, err)
	_, err = f.svc.Insert(ctx, &service.UserInput{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	_, err = f.svc.FullReplace(ctx, a.ID, &service.UserInput{Username: "Bob", Password: "pw"})
	assert.True(t, apperr.IsConflict(err))

	_, err = f.svc.FullReplace(ctx, a.ID, &service.UserInput{Username: "alice", Password: "pw", Roles: roleLinks(77)})
	assert.True(t, apperr.IsNotFound(err))

	// failed replaces left the aggregate untouched
	got, err := f.svc.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, emailSet(got))

	// keeping one's own username is not a conflict
	_, err = f.svc.FullReplace(ctx, a.ID, &service.UserInput{Username: "ALICE", Password: "pw"})
	assert.NoError(t, err)
}

func TestPartialUpdateEmailsReplaceWholeSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{
		Username: "cinnamon", Password: "pw",
		Useremails: emails("cinnamon@mymail.local", "hops@mymail.local"),
		Roles:      roleLinks(f.roles[models.RoleData]),
	})
	require.NoError(t, err)

	_, err = f.svc.PartialUpdate(ctx, u.ID, &service.UserPatch{
		Useremails: nullable.NewNullableWithValue(emails("bunny@email.local")),
	})
	require.NoError(t, err)

	got, err := f.svc.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bunny@email.local"}, emailSet(got))
	assert.Equal(t, "bunny@email.local", got.PrimaryEmail)
	assert.Equal(t, []uint{f.roles[models.RoleData]}, roleSet(got))
	assert.Equal(t, "cinnamon", got.Username)
	assert.Equal(t, "hashed:pw", got.Password)
}

func TestPartialUpdateRolesIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{
		Username: "puttat", Password: "pw",
		Useremails: emails("puttat@school.lambda"),
		Roles:      roleLinks(f.roles[models.RoleUser]),
	})
	require.NoError(t, err)

	got, err := f.svc.PartialUpdate(ctx, u.ID, &service.UserPatch{
		Password:   nullable.NewNullableWithValue("new"),
		Useremails: nullable.NewNullableWithValue([]service.EmailInput{}),
		Roles:      nullable.NewNullableWithValue(roleLinks(f.roles[models.RoleAdmin], f.roles[models.RoleData])),
	})
	require.NoError(t, err)

	assert.Equal(t, "hashed:new", got.Password)
	assert.Equal(t, []string{"puttat@school.lambda"}, emailSet(got))
	assert.Equal(t, []uint{f.roles[models.RoleAdmin], f.roles[models.RoleData]}, roleSet(got))
}

func TestPartialUpdateNullCollectionsAreUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{
		Username: "misskitty", Password: "pw",
		Useremails: emails("misskitty@school.lambda"),
		Roles:      roleLinks(f.roles[models.RoleUser]),
	})
	require.NoError(t, err)

	got, err := f.svc.PartialUpdate(ctx, u.ID, &service.UserPatch{
		Useremails: nullable.NewNullNullable[[]service.EmailInput](),
		Roles:      nullable.NewNullNullable[[]service.RoleLinkInput](),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"misskitty@school.lambda"}, emailSet(got))
	assert.Equal(t, []uint{f.roles[models.RoleUser]}, roleSet(got))
}

func TestPartialUpdateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PartialUpdate(ctx, 404, &service.UserPatch{Username: nullable.NewNullableWithValue("x")})
	assert.True(t, apperr.IsNotFound(err))

	a, err := f.svc.Insert(ctx, &service.UserInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	_, err = f.svc.Insert(ctx, &service.UserInput{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	_, err = f.svc.PartialUpdate(ctx, a.ID, &service.UserPatch{Username: nullable.NewNullableWithValue("bob")})
	assert.True(t, apperr.IsConflict(err))

	_, err = f.svc.PartialUpdate(ctx, a.ID, &service.UserPatch{Username: nullable.NewNullNullable[string]()})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.PartialUpdate(ctx, a.ID, &service.UserPatch{Password: nullable.NewNullableWithValue("")})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.PartialUpdate(ctx, a.ID, &service.UserPatch{Useremails: nullable.NewNullableWithValue(emails("nope"))})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.PartialUpdate(ctx, a.ID, &service.UserPatch{Roles: nullable.NewNullableWithValue(roleLinks(55))})
	assert.True(t, apperr.IsNotFound(err))

	// empty patch is a no-op that still succeeds
	got, err := f.svc.PartialUpdate(ctx, a.ID, &service.UserPatch{})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestDeleteCascadesToChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{
		Username: "test admin", Password: "password",
		Useremails: emails("admin@email.local", "admin@mymail.local"),
		Roles:      roleLinks(f.roles[models.RoleAdmin], f.roles[models.RoleUser], f.roles[models.RoleData]),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, u.ID))

	_, err = f.svc.FindByID(ctx, u.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.Zero(t, f.countRows(t, &models.Useremail{}, u.ID))
	assert.Zero(t, f.countRows(t, &models.UserRole{}, u.ID))

	// roles are referenced, never owned
	var roles int64
	require.NoError(t, f.db.Model(&models.Role{}).Count(&roles).Error)
	assert.EqualValues(t, 3, roles)

	assert.True(t, apperr.IsNotFound(f.svc.Delete(ctx, u.ID)))
}

func TestAddAndRemoveUserRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Insert(ctx, &service.UserInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	admin := f.roles[models.RoleAdmin]

	require.NoError(t, f.svc.AddUserRole(ctx, u.ID, admin))
	err = f.svc.AddUserRole(ctx, u.ID, admin)
	assert.True(t, apperr.IsConflict(err), "got %v", err)

	assert.True(t, apperr.IsNotFound(f.svc.AddUserRole(ctx, 404, admin)))
	assert.True(t, apperr.IsNotFound(f.svc.AddUserRole(ctx, u.ID, 404)))

	got, err := f.svc.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{admin}, roleSet(got))

	require.NoError(t, f.svc.RemoveUserRole(ctx, u.ID, admin))
	assert.True(t, apperr.IsNotFound(f.svc.RemoveUserRole(ctx, u.ID, admin)))

	assert.Equal(t, []events.Type{events.UserCreated, events.UserRoleAdded, events.UserRoleRemoved}, f.pub.types())
}

func TestFindByNameAndContaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"test cinnamon", "test barnbarn", "cinnabon", "misskitty"} {
		_, err := f.svc.Insert(ctx, &service.UserInput{Username: name, Password: "pw"})
		require.NoError(t, err)
	}

	u, err := f.svc.FindByName(ctx, "Test Cinnamon")
	require.NoError(t, err)
	assert.Equal(t, "test cinnamon", u.Username)

	_, err = f.svc.FindByName(ctx, "cinn")
	assert.True(t, apperr.IsNotFound(err))

	users, total, err := f.svc.FindByNameContaining(ctx, "cinn", 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, users, 2)
	assert.Equal(t, "cinnabon", users[0].Username)

	users, total, err = f.svc.FindByNameContaining(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, users)

	all, err := f.svc.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCountEmailsPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Insert(ctx, &service.UserInput{Username: "admin", Password: "pw",
		Useremails: emails("a1@x.com", "a2@x.com")})
	require.NoError(t, err)
	b, err := f.svc.Insert(ctx, &service.UserInput{Username: "barn", Password: "pw"})
	require.NoError(t, err)

	counts, err := f.svc.CountEmailsPerUser(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, a.ID, counts[0].UserID)
	assert.EqualValues(t, 1, counts[0].CountEmails)
	assert.Equal(t, b.ID, counts[1].UserID)
	assert.EqualValues(t, 0, counts[1].CountEmails)
}

func TestPublishFailureDoesNotFailCommittedChange(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("redis down")

	u, err := f.svc.Insert(context.Background(), &service.UserInput{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = f.svc.FindByID(context.Background(), u.ID)
	assert.NoError(t, err)
}
