// Пакет cache — key/value кэш с временем жизни для каждой записи.
// Пространства ключей (сессии, метаданные файлов, пользователи) разделены
// префиксами, у каждого префикса один владелец и собственный экземпляр LRU:
// вытеснение в одном пространстве не затрагивает остальные.
// Реализация по умолчанию — in-memory LRU (hashicorp/golang-lru/v2/expirable).
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Префиксы пространств ключей.
const (
	Delimiter = ":"
	Prefix    = "zero" + Delimiter + "server" + Delimiter

	// NamespaceToken — token → subject, владелец token.Manager.
	NamespaceToken = Prefix + "token" + Delimiter
	// NamespaceFileInfo — id → FileRecord (JSON), владелец service.FileService.
	NamespaceFileInfo = Prefix + "file" + Delimiter + "info" + Delimiter
	// NamespaceUser — id → User (JSON), владелец service.UserService.
	NamespaceUser = Prefix + "user" + Delimiter
)

// namespaces — известные префиксы для лейблов метрик.
var namespaces = map[string]string{
	NamespaceToken:    "token",
	NamespaceFileInfo: "file_info",
	NamespaceUser:     "user",
}

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zs_cache_hits_total",
		Help: "Общее количество попаданий в кэш (по пространству ключей).",
	}, []string{"namespace"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zs_cache_misses_total",
		Help: "Общее количество промахов кэша (по пространству ключей).",
	}, []string{"namespace"})
)

// Cache — контракт TTL-кэша. Операции над одним ключом атомарны.
// Ошибка означает сбой самого кэша; отсутствие ключа — (nil, false, nil).
type Cache interface {
	// Get возвращает значение по ключу.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set записывает значение с указанным временем жизни (перезаписывает TTL).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete удаляет ключ. Удаление отсутствующего ключа — не ошибка.
	Delete(ctx context.Context, key string) error
}

// Key собирает ключ из префикса пространства и идентификатора.
func Key(namespace, id string) string {
	return namespace + id
}

// entry — значение с абсолютным временем истечения.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// LRU — in-memory реализация Cache.
// Каждый экземпляр процесса имеет собственный кэш (per-instance).
// TTL записи не может превышать maxTTL — верхнюю границу LRU.
type LRU struct {
	lru    *expirable.LRU[string, entry]
	maxTTL time.Duration
}

// NewLRU создаёт кэш на maxSize записей (0 — без ограничения размера).
// maxTTL — наибольшее время жизни, которое будет запрошено через Set.
func NewLRU(maxSize int, maxTTL time.Duration) *LRU {
	return &LRU{
		lru:    expirable.NewLRU[string, entry](maxSize, nil, maxTTL),
		maxTTL: maxTTL,
	}
}

// Limits — ограничения кэша одного пространства ключей.
type Limits struct {
	// MaxSize — число записей, 0 — без ограничения.
	MaxSize int
	// MaxTTL — наибольшее время жизни записи.
	MaxTTL time.Duration
}

// Namespaces — по экземпляру LRU на каждое пространство ключей.
type Namespaces struct {
	// Tokens — NamespaceToken.
	Tokens *LRU
	// Files — NamespaceFileInfo.
	Files *LRU
	// Users — NamespaceUser.
	Users *LRU
}

// NewNamespaces создаёт кэши пространств ключей.
func NewNamespaces(tokens, files, users Limits) *Namespaces {
	return &Namespaces{
		Tokens: NewLRU(tokens.MaxSize, tokens.MaxTTL),
		Files:  NewLRU(files.MaxSize, files.MaxTTL),
		Users:  NewLRU(users.MaxSize, users.MaxTTL),
	}
}

// Get возвращает значение, если оно есть и не истекло.
func (c *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	ns := namespaceOf(key)

	e, ok := c.lru.Get(key)
	if !ok || !time.Now().Before(e.expiresAt) {
		if ok {
			c.lru.Remove(key)
		}
		cacheMissesTotal.WithLabelValues(ns).Inc()
		return nil, false, nil
	}

	cacheHitsTotal.WithLabelValues(ns).Inc()
	return e.value, true, nil
}

// Set добавляет или обновляет запись; время жизни отсчитывается заново.
// ttl <= 0 или больше maxTTL приводится к maxTTL.
func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.lru.Add(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete удаляет запись из кэша.
func (c *LRU) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len возвращает количество записей (включая ещё не вычищенные истёкшие).
func (c *LRU) Len() int {
	return c.lru.Len()
}

// namespaceOf возвращает лейбл пространства для метрик.
func namespaceOf(key string) string {
	for prefix, name := range namespaces {
		if strings.HasPrefix(key, prefix) {
			return name
		}
	}
	return "other"
}
