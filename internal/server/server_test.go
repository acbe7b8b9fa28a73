package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/zero-server/internal/api/handlers"
	"github.com/bigkaa/zero-server/internal/api/middleware"
	"github.com/bigkaa/zero-server/internal/cache"
	"github.com/bigkaa/zero-server/internal/credential"
	"github.com/bigkaa/zero-server/internal/domain/model"
	"github.com/bigkaa/zero-server/internal/filestore"
	"github.com/bigkaa/zero-server/internal/repository"
	"github.com/bigkaa/zero-server/internal/service"
	"github.com/bigkaa/zero-server/internal/token"
)

// --- in-memory репозитории ---

type memFiles struct {
	mu   sync.Mutex
	recs map[string]model.FileRecord
}

func (m *memFiles) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	return m.FindOne(ctx, repository.FileFilter{ID: &id})
}

func (m *memFiles) FindOne(_ context.Context, f repository.FileFilter) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == nil {
		return nil, repository.ErrNotFound
	}
	rec, ok := m.recs[*f.ID]
	if !ok || (f.Valid != nil && rec.Valid != *f.Valid) {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *memFiles) Save(_ context.Context, f *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.recs[f.ID]; ok && (f.Version == 0 || cur.Version != f.Version) {
		return repository.ErrConflict
	}
	f.Version++
	m.recs[f.ID] = *f
	return nil
}

type memUsers struct {
	mu     sync.Mutex
	users  map[int64]model.User
	nextID int64
}

func (m *memUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) Save(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.users {
		if other.Username == u.Username && id != u.ID {
			return repository.ErrConflict
		}
	}
	if u.ID == 0 {
		m.nextID++
		u.ID = m.nextID
	}
	u.Version++
	m.users[u.ID] = *u
	return nil
}

func (m *memUsers) Search(_ context.Context, f model.UserFilter, limit, offset int) ([]*model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*model.User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok && strings.Contains(u.Username, f.Username) {
			list = append(list, &u)
		}
	}
	total := int64(len(list))
	if offset >= len(list) {
		return []*model.User{}, total, nil
	}
	return list[offset:min(offset+limit, len(list))], total, nil
}

// --- окружение ---

type testEnv struct {
	t      *testing.T
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	// Кэш метаданных файлов намеренно мал: вытеснение в нём не должно задевать сессии
	caches := cache.NewNamespaces(
		cache.Limits{MaxTTL: time.Hour},
		cache.Limits{MaxSize: 2, MaxTTL: time.Hour},
		cache.Limits{MaxSize: 100, MaxTTL: time.Hour},
	)
	tokens := token.NewManager(caches.Tokens, time.Hour, logger)
	hasher := credential.NewVerifier(credential.Params{
		MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	fileRepo := &memFiles{recs: make(map[string]model.FileRecord)}
	userRepo := &memUsers{users: make(map[int64]model.User)}

	filesSvc := service.NewFileService(fileRepo, store, caches.Files, time.Hour, logger)
	usersSvc := service.NewUserService(userRepo, filesSvc, hasher, caches.Users, time.Hour, "admin", logger)
	authSvc := service.NewAuthService(userRepo, hasher, tokens, logger)
	if err := usersSvc.EnsureAdmin(ctx); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}

	api := handlers.NewAPIHandler(handlers.NewHealthHandler(nil, store), authSvc, usersSvc, filesSvc, 1<<20, logger)
	srv := httptest.NewServer(NewRouter(logger, api, middleware.NewTokenAuth(tokens, usersSvc, logger), usersSvc))
	t.Cleanup(srv.Close)

	return &testEnv{t: t, server: srv}
}

// envelope — разобранный ответ API.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	status  int
}

// post отправляет {"param": param} и разбирает конверт ответа.
func (e *testEnv) post(path, tok string, param any) envelope {
	e.t.Helper()
	body, _ := json.Marshal(map[string]any{"param": param})
	req, _ := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return e.do(req)
}

func (e *testEnv) do(req *http.Request) envelope {
	e.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		e.t.Fatalf("%s: ответ не конверт: %v", req.URL.Path, err)
	}
	env.status = resp.StatusCode
	return env
}

func (e *testEnv) login(username, password string) string {
	e.t.Helper()
	env := e.post("/api/oauth2/login", "", map[string]string{"username": username, "password": password})
	if env.Code != "0000" {
		e.t.Fatalf("вход %s: code = %s (%s)", username, env.Code, env.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(env.Data, &data)
	return data.Token
}

func (e *testEnv) upload(tok, name string, content []byte) envelope {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", name)
	_, _ = part.Write(content)
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, e.server.URL+"/api/file/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return e.do(req)
}

// --- тесты ---

func TestRouter_UploadView(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login("admin", "admin")
	content := []byte("Привет, zero-server!")

	up := env.upload(tok, "привет.txt", content)
	if up.Code != "0000" {
		t.Fatalf("upload: code = %s (%s)", up.Code, up.Message)
	}
	var data model.FileData
	if err := json.Unmarshal(up.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	if data.ID == "" || data.Code == "" || data.Origin != "привет.txt" || data.Size != int64(len(content)) {
		t.Fatalf("FileData = %+v", data)
	}

	// Просмотр без аутентификации
	q := url.Values{"id": {data.ID}, "code": {data.Code}}
	resp, err := http.Get(env.server.URL + "/api/file/view?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, content) {
		t.Fatalf("view: status %d, тело %q", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "inline;") || !strings.Contains(cd, "filename*=UTF-8''") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// Метаданные
	info := env.post("/api/file/info", "", map[string]string{"id": data.ID, "code": data.Code})
	if info.Code != "0000" {
		t.Errorf("info: code = %s", info.Code)
	}

	// Неверный код
	bad := env.post("/api/file/info", "", map[string]string{"id": data.ID, "code": "wrong"})
	if bad.Code != "1009" || bad.status != http.StatusBadRequest {
		t.Errorf("неверный код: code = %s, status = %d", bad.Code, bad.status)
	}

	// Неизвестный id
	missing := env.post("/api/file/info", "", map[string]string{"id": "1", "code": "1"})
	if missing.Code != "1010" || missing.status != http.StatusNotFound {
		t.Errorf("неизвестный id: code = %s, status = %d", missing.Code, missing.status)
	}
}

func TestRouter_Download(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login("admin", "admin")
	up := env.upload(tok, "report.csv", []byte("a,b\n1,2\n"))
	var data model.FileData
	_ = json.Unmarshal(up.Data, &data)

	body, _ := json.Marshal(map[string]any{"param": map[string]string{"id": data.ID, "code": data.Code}})
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/file/download", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(got) != "a,b\n1,2\n" {
		t.Fatalf("download: status %d, тело %q", resp.StatusCode, got)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// Без токена — 401
	req, _ = http.NewRequest(http.MethodPost, env.server.URL+"/api/file/download", bytes.NewReader(body))
	if env.do(req).status != http.StatusUnauthorized {
		t.Error("download без токена должен вернуть 401")
	}
}

func TestRouter_ViewMissingParams(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/file/view?id=1", nil)
	got := env.do(req)
	if got.Code != "6666" || got.status != http.StatusBadRequest {
		t.Errorf("без code: code = %s, status = %d", got.Code, got.status)
	}
}

func TestRouter_UploadRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	got := env.upload("", "a.txt", []byte("x"))
	if got.Code != "1111" || got.status != http.StatusUnauthorized {
		t.Errorf("code = %s, status = %d", got.Code, got.status)
	}
}

func TestRouter_UsersAndPermissions(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login("admin", "admin")

	created := env.post("/api/user/upsert", admin, map[string]any{"username": "alice"})
	if created.Code != "0000" {
		t.Fatalf("upsert: code = %s (%s)", created.Code, created.Message)
	}
	var alice model.User
	_ = json.Unmarshal(created.Data, &alice)
	if bytes.Contains(created.Data, []byte("password")) {
		t.Errorf("ответ содержит пароль: %s", created.Data)
	}

	aliceTok := env.login("alice", "alice")

	// Обычный пользователь не может создавать пользователей
	denied := env.post("/api/user/upsert", aliceTok, map[string]any{"username": "mallory"})
	if denied.Code != "2222" || denied.status != http.StatusForbidden {
		t.Errorf("upsert от alice: code = %s, status = %d", denied.Code, denied.status)
	}
	denied = env.post("/api/security/reset-password", aliceTok, map[string]any{"id": 1})
	if denied.Code != "2222" {
		t.Errorf("reset-password от alice: code = %s", denied.Code)
	}

	info := env.post("/api/user/info", aliceTok, nil)
	var me model.User
	_ = json.Unmarshal(info.Data, &me)
	if info.Code != "0000" || me.Username != "alice" {
		t.Errorf("info: code = %s, user = %+v", info.Code, me)
	}

	sel := env.post("/api/user/select", aliceTok, map[string]any{"id": alice.ID})
	if sel.Code != "0000" {
		t.Errorf("select: code = %s", sel.Code)
	}

	search := env.post("/api/user/search", aliceTok, map[string]any{"page": 1, "size": 10, "param": map[string]any{"username": "ali"}})
	var page model.PageResult[model.User]
	_ = json.Unmarshal(search.Data, &page)
	if search.Code != "0000" || page.Total != 1 || len(page.List) != 1 {
		t.Errorf("search: code = %s, page = %+v", search.Code, page)
	}

	dup := env.post("/api/user/upsert", admin, map[string]any{"username": "alice"})
	if dup.Code != "1005" || dup.status != http.StatusConflict {
		t.Errorf("дубликат: code = %s, status = %d", dup.Code, dup.status)
	}
}

func TestRouter_PasswordsAndLogout(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login("admin", "admin")
	env.post("/api/user/upsert", admin, map[string]any{"username": "bob"})
	bob := env.login("bob", "bob")

	same := env.post("/api/security/change-password", bob, map[string]string{"oldPassword": "bob", "newPassword": "bob"})
	if same.Code != "1006" {
		t.Errorf("одинаковые пароли: code = %s", same.Code)
	}
	changed := env.post("/api/security/change-password", bob, map[string]string{"oldPassword": "bob", "newPassword": "n3w"})
	if changed.Code != "0000" {
		t.Fatalf("смена пароля: code = %s (%s)", changed.Code, changed.Message)
	}
	wrong := env.post("/api/oauth2/login", "", map[string]string{"username": "bob", "password": "bob"})
	if wrong.Code != "1002" {
		t.Errorf("вход со старым паролем: code = %s", wrong.Code)
	}
	_ = env.login("bob", "n3w")

	out := env.post("/api/oauth2/logout", bob, nil)
	if out.Code != "0000" {
		t.Fatalf("logout: code = %s", out.Code)
	}
	after := env.post("/api/user/info", bob, nil)
	if after.Code != "1111" || after.status != http.StatusUnauthorized {
		t.Errorf("после выхода: code = %s, status = %d", after.Code, after.status)
	}
	again := env.post("/api/oauth2/logout", bob, nil)
	if again.status != http.StatusUnauthorized {
		t.Errorf("повторный выход отозванным токеном: status = %d", again.status)
	}
}

func TestRouter_SessionSurvivesFileTraffic(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login("admin", "admin")

	var files []model.FileData
	for i := range 5 {
		up := env.upload(tok, fmt.Sprintf("f%d.txt", i), []byte{byte('a' + i)})
		var data model.FileData
		if err := json.Unmarshal(up.Data, &data); err != nil || up.Code != "0000" {
			t.Fatalf("upload %d: code = %s", i, up.Code)
		}
		files = append(files, data)
	}

	// Анонимные запросы метаданных многократно переполняют кэш файлов
	for round := range 3 {
		for _, f := range files {
			info := env.post("/api/file/info", "", map[string]string{"id": f.ID, "code": f.Code})
			if info.Code != "0000" {
				t.Fatalf("раунд %d, info %s: code = %s", round, f.ID, info.Code)
			}
		}
	}

	if got := env.post("/api/user/info", tok, nil); got.Code != "0000" {
		t.Errorf("сессия потеряна после запросов метаданных: code = %s", got.Code)
	}
}

func TestRouter_SessionFollowsUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login("admin", "admin")

	created := env.post("/api/user/upsert", admin, map[string]any{"username": "bob"})
	var bob model.User
	_ = json.Unmarshal(created.Data, &bob)
	bobTok := env.login("bob", "bob")

	// Переименование: сессия остаётся за тем же пользователем
	if got := env.post("/api/user/upsert", admin, map[string]any{"id": bob.ID, "username": "robert"}); got.Code != "0000" {
		t.Fatalf("переименование: code = %s (%s)", got.Code, got.Message)
	}
	// Новый bob — другой пользователь
	if got := env.post("/api/user/upsert", admin, map[string]any{"username": "bob"}); got.Code != "0000" {
		t.Fatalf("новый bob: code = %s", got.Code)
	}

	info := env.post("/api/user/info", bobTok, nil)
	var me model.User
	_ = json.Unmarshal(info.Data, &me)
	if info.Code != "0000" || me.ID != bob.ID || me.Username != "robert" {
		t.Errorf("сессия после переименования: code = %s, user = %+v", info.Code, me)
	}

	// Отключение закрывает сессию
	if got := env.post("/api/user/upsert", admin, map[string]any{"id": bob.ID, "valid": false}); got.Code != "0000" {
		t.Fatalf("отключение: code = %s", got.Code)
	}
	denied := env.post("/api/user/info", bobTok, nil)
	if denied.Code != "1111" || denied.status != http.StatusUnauthorized {
		t.Errorf("отключённый пользователь: code = %s, status = %d", denied.Code, denied.status)
	}

	// Повторное включение не воскрешает отозванную сессию
	_ = env.post("/api/user/upsert", admin, map[string]any{"id": bob.ID, "valid": true})
	if got := env.post("/api/user/info", bobTok, nil); got.Code != "1111" {
		t.Errorf("после повторного включения: code = %s, ожидался 1111", got.Code)
	}
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live: status = %d", resp.StatusCode)
	}

	// Каталог хранилища готов, PostgreSQL не подключён — fail
	resp, err = http.Get(env.server.URL + "/health/ready")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready: status = %d, ожидался 503", resp.StatusCode)
	}
	var ready struct {
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("ready: некорректный JSON: %v", err)
	}
	if ready.Checks["storage"].Status != "ok" || ready.Checks["postgresql"].Status != "fail" {
		t.Errorf("ready: checks = %+v", ready.Checks)
	}
}
