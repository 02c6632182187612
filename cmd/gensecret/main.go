// Print fresh secret keys to sign access and refresh tokens, ready to put to '.env'
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretBytesLen = 32

func main() {
	size := pflag.IntP("bytes", "b", defaultSecretBytesLen, "Secret length in bytes")
	pflag.Parse()

	for _, key := range []string{"ACCESS_SECRET_KEY", "REFRESH_SECRET_KEY"} {
		secret, err := newSecret(*size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s=%s\n", key, secret)
	}
}

func newSecret(size int) (string, error) {
	if size < 16 {
		return "", fmt.Errorf("secret of %d bytes is too short, at least 16 expected", size)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
