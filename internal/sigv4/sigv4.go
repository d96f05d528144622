package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// Algorithm is the SigV4 algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// SignedHeaders lists the headers bound into every signature.
	SignedHeaders = "content-type;host;x-amz-date"

	// TimeFormat is the X-Amz-Date layout.
	TimeFormat = "20060102T150405Z"

	// FormContentType is the only content type the IAM query API accepts.
	FormContentType = "application/x-www-form-urlencoded"

	terminator = "aws4_request"
)

// Request describes the parts of an HTTP request covered by the signature.
type Request struct {
	Method      string
	Host        string
	Path        string
	Query       string
	ContentType string
	Body        []byte
}

// Credentials are long-lived IAM access keys.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Scope selects the region and service the signature is valid for.
type Scope struct {
	Region  string
	Service string
}

// Signature holds the Authorization header value plus the intermediate
// artifacts, which are useful when comparing against published vectors.
type Signature struct {
	Authorization    string
	CanonicalRequest string
	StringToSign     string
	Signature        string
}

// FormatTime renders t as an X-Amz-Date value.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Sign computes the SigV4 Authorization header for req. timestamp must be in
// TimeFormat; its first eight characters form the credential date.
func Sign(req Request, creds Credentials, scope Scope, timestamp string) (Signature, error) {
	if len(timestamp) != len(TimeFormat) {
		return Signature{}, fmt.Errorf("timestamp %q is not in %s format", timestamp, TimeFormat)
	}
	date := timestamp[:8]

	path := req.Path
	if path == "" {
		path = "/"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = FormContentType
	}

	canonicalHeaders := "content-type:" + strings.TrimSpace(contentType) + "\n" +
		"host:" + strings.ToLower(strings.TrimSpace(req.Host)) + "\n" +
		"x-amz-date:" + timestamp + "\n"

	canonical := strings.Join([]string{
		strings.ToUpper(req.Method),
		path,
		req.Query,
		canonicalHeaders,
		SignedHeaders,
		hashHex(req.Body),
	}, "\n")

	credentialScope := strings.Join([]string{date, scope.Region, scope.Service, terminator}, "/")
	stringToSign := strings.Join([]string{
		Algorithm,
		timestamp,
		credentialScope,
		hashHex([]byte(canonical)),
	}, "\n")

	key := SigningKey(creds.SecretAccessKey, date, scope.Region, scope.Service)
	sig := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	return Signature{
		Authorization: fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
			Algorithm, creds.AccessKeyID, credentialScope, SignedHeaders, sig),
		CanonicalRequest: canonical,
		StringToSign:     stringToSign,
		Signature:        sig,
	}, nil
}

// SigningKey derives the per-day, per-region, per-service signing key.
func SigningKey(secret, date, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	k = hmacSHA256(k, []byte(region))
	k = hmacSHA256(k, []byte(service))
	return hmacSHA256(k, []byte(terminator))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
