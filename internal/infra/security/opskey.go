package security

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrOpsKeyInvalid = errors.New("security: operator key rejected")

// OpsKeyVerifier checks the X-Ops-Key header of operator endpoints against a
// bcrypt hash taken from configuration. With no hash configured every key
// is rejected.
type OpsKeyVerifier struct {
	Hash string
}

func (v OpsKeyVerifier) Verify(key string) error {
	key = strings.TrimSpace(key)
	if v.Hash == "" || key == "" {
		return ErrOpsKeyInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.Hash), []byte(key)); err != nil {
		return ErrOpsKeyInvalid
	}
	return nil
}

// HashOpsKey produces the value stored in OPS_KEY_HASH.
func HashOpsKey(key string, cost int) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("security: empty operator key")
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
