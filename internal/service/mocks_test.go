package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/zero-server/internal/domain/model"
	"github.com/bigkaa/zero-server/internal/repository"
)

// testLogger — логгер, отбрасывающий вывод.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mockFileRepo ---

// mockFileRepo — in-memory FileRepository с подсчётом вызовов.
type mockFileRepo struct {
	mu      sync.Mutex
	records map[string]model.FileRecord

	findCalls int
	// conflicts — сколько первых вставок вернут ErrConflict
	conflicts int
	saveErr   error
	inserted  []string
}

func newMockFileRepo() *mockFileRepo {
	return &mockFileRepo{records: make(map[string]model.FileRecord)}
}

func (m *mockFileRepo) FindByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *mockFileRepo) FindOne(_ context.Context, filter repository.FileFilter) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	for _, rec := range m.records {
		if filter.ID != nil && rec.ID != *filter.ID {
			continue
		}
		if filter.Code != nil && rec.Code != *filter.Code {
			continue
		}
		if filter.Valid != nil && rec.Valid != *filter.Valid {
			continue
		}
		return &rec, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockFileRepo) Save(_ context.Context, f *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if f.Version == 0 {
		m.inserted = append(m.inserted, f.ID)
		if m.conflicts > 0 {
			m.conflicts--
			return repository.ErrConflict
		}
		if _, ok := m.records[f.ID]; ok {
			return repository.ErrConflict
		}
		now := time.Now()
		f.Version = 1
		f.CreateTime, f.UpdateTime = now, now
		m.records[f.ID] = *f
		return nil
	}
	cur, ok := m.records[f.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != f.Version {
		return repository.ErrConflict
	}
	f.Version++
	f.UpdateTime = time.Now()
	m.records[f.ID] = *f
	return nil
}

func (m *mockFileRepo) put(rec model.FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Version == 0 {
		rec.Version = 1
	}
	m.records[rec.ID] = rec
}

func (m *mockFileRepo) get(id string) (model.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

func (m *mockFileRepo) finds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findCalls
}

// --- mockUserRepo ---

// mockUserRepo — in-memory UserRepository.
type mockUserRepo struct {
	mu     sync.Mutex
	users  map[int64]model.User
	nextID int64

	findByIDCalls int
	err           error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]model.User)}
}

func (m *mockUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findByIDCalls++
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *mockUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepo) Save(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for id, other := range m.users {
		if other.Username == u.Username && id != u.ID {
			return repository.ErrConflict
		}
	}
	now := time.Now()
	if u.ID == 0 {
		m.nextID++
		u.ID = m.nextID
		u.Version = 1
		u.CreateTime, u.UpdateTime = now, now
		m.users[u.ID] = *u
		return nil
	}
	cur, ok := m.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != u.Version {
		return repository.ErrConflict
	}
	u.Version++
	u.UpdateTime = now
	m.users[u.ID] = *u
	return nil
}

func (m *mockUserRepo) Search(_ context.Context, filter model.UserFilter, limit, offset int) ([]*model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var all []*model.User
	for id := int64(1); id <= m.nextID; id++ {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		if filter.Username != "" && !strings.Contains(strings.ToLower(u.Username), strings.ToLower(filter.Username)) {
			continue
		}
		if filter.Nickname != "" && !strings.Contains(strings.ToLower(u.Nickname), strings.ToLower(filter.Nickname)) {
			continue
		}
		if filter.Valid != nil && u.Valid != *filter.Valid {
			continue
		}
		all = append(all, &u)
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []*model.User{}, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

func (m *mockUserRepo) byID(id int64) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// --- plainHasher ---

// plainHasher — PasswordHasher без криптографии для быстрых тестов.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (plainHasher) Verify(encoded, password string) (bool, error) {
	if !strings.HasPrefix(encoded, "plain$") {
		return false, errors.New("неизвестный формат хеша")
	}
	return encoded == "plain$"+password, nil
}

// --- brokenCache ---

// brokenCache — кэш, у которого сломаны все операции.
type brokenCache struct{}

var errCacheDown = errors.New("кэш недоступен")

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}

func (brokenCache) Delete(context.Context, string) error {
	return errCacheDown
}
