package template

import (
	"fmt"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/md5_crypt"
	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

// hashPassword computes a shadow-style crypt hash of password with a
// random salt. The scheme selects the digest: $1$ (md5), $5$ (sha256)
// or $6$ (sha512). The weaker digests exist only because some
// installer answer-file formats still require them.
func hashPassword(password string, scheme crypt.Crypt) (string, error) {
	hash, err := scheme.New().Generate([]byte(password), nil)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return hash, nil
}
