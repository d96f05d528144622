package sigv4

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SecretKeyLength is the exact length of an IAM secret access key.
const SecretKeyLength = 40

var accessKeyIDPattern = regexp.MustCompile(`^(AKIA|ASIA)`)

var (
	// ErrAccessKeyIDFormat is returned for ids that are not IAM user or
	// session access keys.
	ErrAccessKeyIDFormat = errors.New("access key id must start with AKIA or ASIA")

	// ErrSecretKeyFormat is returned for secrets of the wrong length.
	ErrSecretKeyFormat = fmt.Errorf("secret access key must be exactly %d characters", SecretKeyLength)
)

// ValidateCredentials performs the local format checks that must pass before
// any request is signed.
func ValidateCredentials(creds Credentials) error {
	if !accessKeyIDPattern.MatchString(strings.TrimSpace(creds.AccessKeyID)) {
		return ErrAccessKeyIDFormat
	}
	if len(creds.SecretAccessKey) != SecretKeyLength {
		return ErrSecretKeyFormat
	}
	return nil
}
