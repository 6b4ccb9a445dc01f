package shared

import (
	"crypto/rand"
	"math/big"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlphanumeric returns n characters drawn uniformly from [A-Za-z0-9].
func RandomAlphanumeric(n int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}
