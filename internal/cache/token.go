package cache

import (
	"crypto/rand"
	"math/big"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const defaultTokenLength = 16

// GenerateToken генерирует короткий случайный токен. Токены выдаются
// клиентам как непредсказуемые capability-идентификаторы, поэтому
// используется crypto/rand, а не math/rand.
func GenerateToken(prefix string, length int) string {
	if length <= 0 {
		length = defaultTokenLength
	}

	token := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range token {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand на практике не возвращает ошибку; фиксируем
			// на первом символе алфавита, чтобы не паниковать
			token[i] = charset[0]
			continue
		}
		token[i] = charset[n.Int64()]
	}
	return prefix + string(token)
}
