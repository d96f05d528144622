// Package sshkey inspects authorized_keys formatted public keys.
package sshkey

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/systmms/keysync/pkg/provider"
)

// ErrInvalidFormat is returned for text that is not a single public key.
var ErrInvalidFormat = errors.New("not a valid SSH public key")

// PublicKey is a parsed authorized_keys line.
type PublicKey struct {
	// Algorithm is the wire name, e.g. "ssh-ed25519".
	Algorithm   string
	Type        provider.KeyType
	Fingerprint string
	Comment     string
	key         ssh.PublicKey
}

// Parse parses a single public key line.
func Parse(text string) (*PublicKey, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidFormat)
	}
	if strings.Contains(text, "\n") {
		return nil, fmt.Errorf("%w: expected exactly one key", ErrInvalidFormat)
	}

	key, comment, options, _, err := ssh.ParseAuthorizedKey([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(options) > 0 {
		return nil, fmt.Errorf("%w: authorized_keys options are not allowed", ErrInvalidFormat)
	}

	return &PublicKey{
		Algorithm:   key.Type(),
		Type:        TypeOf(key.Type()),
		Fingerprint: ssh.FingerprintSHA256(key),
		Comment:     comment,
		key:         key,
	}, nil
}

// AuthorizedKey renders the key without its comment.
func (k *PublicKey) AuthorizedKey() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k.key)))
}

// String renders the key with its comment, if any.
func (k *PublicKey) String() string {
	if k.Comment == "" {
		return k.AuthorizedKey()
	}
	return k.AuthorizedKey() + " " + k.Comment
}

// TypeOf maps a wire algorithm name onto the key family.
func TypeOf(algorithm string) provider.KeyType {
	switch {
	case algorithm == ssh.KeyAlgoRSA:
		return provider.KeyTypeRSA
	case algorithm == ssh.KeyAlgoED25519, algorithm == ssh.KeyAlgoSKED25519:
		return provider.KeyTypeEd25519
	case strings.HasPrefix(algorithm, "ecdsa-sha2-"), algorithm == ssh.KeyAlgoSKECDSA256:
		return provider.KeyTypeECDSA
	default:
		return ""
	}
}

// Describe fills fingerprint and type from key text returned by a remote
// API. Unparseable text leaves both empty.
func Describe(text string) (fingerprint string, keyType provider.KeyType) {
	k, err := Parse(text)
	if err != nil {
		return "", ""
	}
	return k.Fingerprint, k.Type
}

// LooksLikeEmail reports whether a key comment should be kept for services
// that only accept email-style comments: it contains '@' and a '.' after it.
func LooksLikeEmail(comment string) bool {
	at := strings.Index(comment, "@")
	if at <= 0 {
		return false
	}
	return strings.Contains(comment[at+1:], ".")
}
