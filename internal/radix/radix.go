// Пакет radix — перевод чисел произвольной длины между системами счисления
// с основанием от 1 до 62 (алфавит 0-9A-Za-z).
// Используется для получения кода файла из его числового id.
// Кодирование детерминированное и не является секретом: оно лишь
// затрудняет перебор соседних id, но не заменяет проверку доступа.
package radix

import (
	"errors"
	"math/big"
	"strings"
)

// Alphabet — 62 символа; значение цифры равно её индексу.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Границы допустимых оснований.
const (
	MinBase = 1
	MaxBase = len(Alphabet)
)

// Ошибки перевода.
var (
	// ErrInvalidBase — основание вне диапазона [1, 62] или не поддерживается для значения.
	ErrInvalidBase = errors.New("недопустимое основание системы счисления")
	// ErrInvalidNumeral — пустая строка или символ вне алфавита исходного основания.
	ErrInvalidNumeral = errors.New("недопустимая запись числа")
)

// Convert переводит numeral из системы с основанием from в систему с основанием to.
// Результат записан старшим разрядом вперёд, ноль всегда даёт "0".
// При некорректных входных данных возвращает ошибку и пустую строку.
func Convert(numeral string, from, to int) (string, error) {
	if from < MinBase || from > MaxBase || to < MinBase || to > MaxBase {
		return "", ErrInvalidBase
	}
	if numeral == "" {
		return "", ErrInvalidNumeral
	}

	digits := Alphabet[:from]
	number := new(big.Int)
	bigFrom := big.NewInt(int64(from))
	for i := 0; i < len(numeral); i++ {
		d := strings.IndexByte(digits, numeral[i])
		if d < 0 {
			return "", ErrInvalidNumeral
		}
		number.Mul(number, bigFrom)
		number.Add(number, big.NewInt(int64(d)))
	}

	if number.Sign() == 0 {
		return "0", nil
	}
	// В единичной системе представим только ноль
	if to == 1 {
		return "", ErrInvalidBase
	}

	bigTo := big.NewInt(int64(to))
	rem := new(big.Int)
	var out []byte
	for number.Sign() > 0 {
		number.QuoRem(number, bigTo, rem)
		out = append(out, Alphabet[rem.Int64()])
	}

	// Разряды получены младшим вперёд
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// Encode переводит десятичный id в код файла (основание 62).
func Encode(id string) (string, error) {
	return Convert(id, 10, 62)
}

// Decode переводит код файла (основание 62) обратно в десятичный id.
func Decode(code string) (string, error) {
	return Convert(code, 62, 10)
}

// Verify сообщает, соответствует ли code десятичному id.
// Некорректный id считается несоответствием.
func Verify(id, code string) bool {
	encoded, err := Encode(id)
	if err != nil {
		return false
	}
	return encoded == code
}
