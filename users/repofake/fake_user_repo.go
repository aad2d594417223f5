package fakeuserrepo

import (
	"context"
	"strings"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/users"
)

var (
	_ users.UserRepo = (*FakeUserRepo)(nil)
	_ users.Creator  = (*FakeUserRepo)(nil)
)

type FakeUserRepo struct {
	users       map[int64]*users.User
	usernameIds map[string]int64 // username to user id
	totpSteps   map[int64]int64  // user id to last accepted step
	nextID      int64
	lock        sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:       make(map[int64]*users.User),
		usernameIds: make(map[string]int64),
		totpSteps:   make(map[int64]int64),
	}
}

// Upsert stores a copy of user, assigning an id when it has none.
func (ur *FakeUserRepo) Upsert(user *users.User) *users.User {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	return ur.store(user)
}

func (ur *FakeUserRepo) store(user *users.User) *users.User {
	if user.ID == 0 {
		ur.nextID++
		user.ID = ur.nextID
	} else if user.ID > ur.nextID {
		ur.nextID = user.ID
	}
	ur.users[user.ID] = user.Clone()
	ur.usernameIds[user.Username] = user.ID
	return user
}

// Create stores user unless its username or email is taken.
func (ur *FakeUserRepo) Create(_ context.Context, user *users.User) (*users.User, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, taken := ur.usernameIds[user.Username]; taken {
		return nil, autherrors.New(autherrors.KindConflict, "username or email already registered")
	}
	for _, u := range ur.users {
		if user.Email != "" && strings.EqualFold(u.Email, user.Email) {
			return nil, autherrors.New(autherrors.KindConflict, "username or email already registered")
		}
	}
	user.ID = 0
	return ur.store(user), nil
}

func (ur *FakeUserRepo) GetByID(_ context.Context, id int64) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	u, ok := ur.users[id]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	return u.Clone(), nil
}

func (ur *FakeUserRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.usernameIds[username]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	return ur.users[id].Clone(), nil
}

func (ur *FakeUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	for _, u := range ur.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, autherrors.ErrNotFound
}

func (ur *FakeUserRepo) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if !ok {
		return autherrors.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (ur *FakeUserRepo) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if !ok {
		return autherrors.ErrNotFound
	}
	u.LastLogin = at
	return nil
}

func (ur *FakeUserRepo) ConsumeBackupCode(_ context.Context, id int64, codeHash string) (bool, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if !ok {
		return false, autherrors.ErrNotFound
	}
	for i, h := range u.BackupCodeHashes {
		if h == codeHash {
			u.BackupCodeHashes = append(u.BackupCodeHashes[:i], u.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (ur *FakeUserRepo) RecordTOTPStep(_ context.Context, id int64, step int64) (bool, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.users[id]; !ok {
		return false, autherrors.ErrNotFound
	}
	if last, ok := ur.totpSteps[id]; ok && step <= last {
		return false, nil
	}
	ur.totpSteps[id] = step
	return true, nil
}
