// Package secure provides memory-safe handling of live credentials.
//
// This package wraps the memguard library. Access tokens, refresh tokens,
// app passwords and AWS secret keys held by authenticated providers are
// sealed in a SecureBuffer, which is:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Securely wiped when no longer needed
//
// # Usage
//
//	tok := secure.NewSecureString(accessToken)
//	defer tok.Destroy()
//
//	value, err := tok.Reveal() // only while building a request
//
// It does NOT protect against attackers with access to the running process.
package secure
