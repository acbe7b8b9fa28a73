package database

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/zero-server/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
// Возвращает конфиг; контейнер останавливается через t.Cleanup.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("zero_test"),
		postgres.WithUsername("zero"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Создаём конфиг с минимальными значениями
	t.Setenv("ZS_DB_HOST", host)
	t.Setenv("ZS_DB_PORT", port.Port())
	t.Setenv("ZS_DB_NAME", "zero_test")
	t.Setenv("ZS_DB_USER", "zero")
	t.Setenv("ZS_DB_PASSWORD", "test-password")
	t.Setenv("ZS_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	return cfg
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	// Проверяем ping
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pool.Ping() вернул ошибку: %v", err)
	}

	if got := pool.Stat().MaxConns(); got != cfg.DBMaxConns {
		t.Errorf("MaxConns = %d, ожидается %d", got, cfg.DBMaxConns)
	}

	var appName string
	if err := pool.QueryRow(ctx, "SHOW application_name").Scan(&appName); err != nil {
		t.Fatalf("SHOW application_name: %v", err)
	}
	if appName != "zero-server" {
		t.Errorf("application_name = %q, ожидается zero-server", appName)
	}
}

// TestMigrate проверяет применение миграций.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}

	// Повторное применение — должно быть без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	// Проверяем, что таблицы созданы
	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{"file_info", "users"}

	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	// Имя пользователя уникально
	if _, err := pool.Exec(ctx, `INSERT INTO users (username, password) VALUES ('admin', 'x')`); err != nil {
		t.Fatalf("Вставка пользователя: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO users (username, password) VALUES ('admin', 'y')`); err == nil {
		t.Error("Ожидалось нарушение уникальности users.username")
	}
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	checker := NewReadinessChecker(pool)

	// Проверяем готовность — должен вернуть "ok"
	status, msg := checker.CheckReady(ctx)
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали status = %q",
			status, msg, "ok")
	}
}

// TestReadinessChecker_PoolExhausted: все соединения заняты — degraded,
// после освобождения снова ok.
func TestReadinessChecker_PoolExhausted(t *testing.T) {
	cfg := setupTestDB(t)
	cfg.DBMaxConns = 1
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() вернул ошибку: %v", err)
	}

	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(ctx); status != "degraded" {
		t.Errorf("CheckReady() при занятом пуле = %q (%s), ожидается degraded", status, msg)
	}

	conn.Release()
	if status, msg := checker.CheckReady(ctx); status != "ok" {
		t.Errorf("CheckReady() после освобождения = %q (%s), ожидается ok", status, msg)
	}
}

// TestMigrate_DirtySchema: прерванная миграция блокирует запуск.
func TestMigrate_DirtySchema(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, "UPDATE schema_migrations SET dirty = true"); err != nil {
		t.Fatalf("Не удалось пометить схему dirty: %v", err)
	}

	err = Migrate(cfg, logger)
	if err == nil {
		t.Fatal("Migrate() на dirty-схеме должен вернуть ошибку")
	}
	if !strings.Contains(err.Error(), "dirty") {
		t.Errorf("ошибка %q не упоминает dirty", err)
	}
}

func TestPoolStatus(t *testing.T) {
	tests := []struct {
		name     string
		acquired int32
		maxConns int32
		want     string
	}{
		{"пул свободен", 0, 10, "ok"},
		{"занят частично", 9, 10, "ok"},
		{"исчерпан", 10, 10, "degraded"},
		{"размер неизвестен", 3, 0, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := poolStatus(tt.acquired, tt.maxConns)
			if got != tt.want {
				t.Errorf("poolStatus(%d, %d) = %q (%s), ожидается %q", tt.acquired, tt.maxConns, got, msg, tt.want)
			}
		})
	}
}

func TestMigrateURL(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBPort: 5432, DBName: "zero", DBUser: "zero", DBPassword: "p@ss", DBSSLMode: "disable"}

	want := "pgx5://zero:p%40ss@db:5432/zero?sslmode=disable"
	if got := migrateURL(cfg); got != want {
		t.Errorf("migrateURL() = %q, ожидается %q", got, want)
	}
}
