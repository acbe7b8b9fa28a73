// Пакет credential — хеширование и проверка паролей (argon2id).
// Хеш хранится в PHC-формате:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash — хеш повреждён или создан неподдерживаемым алгоритмом.
var ErrInvalidHash = errors.New("некорректный хеш пароля")

// Params — параметры argon2id.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams — параметры по умолчанию (рекомендации OWASP для argon2id).
var DefaultParams = Params{
	MemoryKiB:   64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Verifier хеширует и проверяет пароли.
type Verifier struct {
	params Params
}

// NewVerifier создаёт Verifier с указанными параметрами.
func NewVerifier(params Params) *Verifier {
	return &Verifier{params: params}
}

// Hash возвращает PHC-строку для пароля со случайной солью.
func (v *Verifier) Hash(password string) (string, error) {
	salt := make([]byte, v.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("генерация соли: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		v.params.Iterations, v.params.MemoryKiB, v.params.Parallelism, v.params.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, v.params.MemoryKiB, v.params.Iterations, v.params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify сравнивает пароль с хешем за постоянное время.
// (false, nil) — пароль не совпал; ErrInvalidHash — хеш не разобран
// или его параметры заметно превышают настроенные.
func (v *Verifier) Verify(encoded, password string) (bool, error) {
	p, salt, expected, err := decode(encoded)
	if err != nil {
		return false, err
	}
	// Хеш из БД не должен заставлять считать дороже, чем мы сами умеем
	if p.MemoryKiB > v.params.MemoryKiB*2 || p.Iterations > v.params.Iterations*2 ||
		p.Parallelism > v.params.Parallelism*2 {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism,
		uint32(len(expected))) // #nosec G115 -- длина ограничена decode()

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// decode разбирает PHC-строку.
func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	return Params{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par), // #nosec G115 -- par <= 255 проверено выше
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}, salt, key, nil
}
