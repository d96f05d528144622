package providers

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/systmms/keysync/internal/config"
	"github.com/systmms/keysync/internal/logging"
	"github.com/systmms/keysync/internal/secure"
	"github.com/systmms/keysync/internal/sigv4"
	"github.com/systmms/keysync/internal/sshkey"
	"github.com/systmms/keysync/internal/transport"
	"github.com/systmms/keysync/pkg/provider"
)

const (
	// DefaultIAMEndpoint is the global IAM query API.
	DefaultIAMEndpoint = "https://iam.amazonaws.com"

	// DefaultAWSRegion is used for display when none is configured.
	DefaultAWSRegion = "us-east-1"

	// iamVersion is sent with every action.
	iamVersion = "2010-05-08"

	// iamSigningRegion is the region of the global IAM endpoint.
	iamSigningRegion = "us-east-1"

	// IAMKeyLimit is the fixed number of SSH keys IAM allows per user.
	IAMKeyLimit = 5

	awsAccessKeyScope = "aws:access-key-id"
	awsSecretKeyScope = "aws:secret-access-key"
)

// awsRequiredPermissions are named in permission errors.
var awsRequiredPermissions = []string{
	"iam:GetUser", "iam:ListSSHPublicKeys", "iam:UploadSSHPublicKey", "iam:DeleteSSHPublicKey",
}

// AWSConfig configures an AWSProvider.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string

	// Endpoint overrides DefaultIAMEndpoint.
	Endpoint string

	// Doer overrides the HTTP client. Tests use it to count requests.
	Doer transport.Doer

	// Now overrides time.Now for signing.
	Now func() time.Time
}

// AWSProvider manages IAM SSH public keys of the IAM user owning the access
// key. Requests are signed with SigV4 and sent to the IAM query API.
type AWSProvider struct {
	endpoint *url.URL
	doer     transport.Doer
	now      func() time.Time
	deps     Deps
	logger   *logging.Logger

	mu sync.RWMutex

	// candidate credentials for the next Authenticate call
	accessKeyID string
	secretKey   *secure.SecureBuffer
	region      string

	// live session
	liveKeyID  string
	liveSecret *secure.SecureBuffer
	username   string
}

// NewAWSProvider creates an unauthenticated AWS provider.
func NewAWSProvider(cfg AWSConfig, deps Deps) (*AWSProvider, error) {
	raw := cfg.Endpoint
	if raw == "" {
		raw = DefaultIAMEndpoint
	}
	endpoint, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || endpoint.Host == "" {
		return nil, provider.NewError(provider.ErrInvalidFormat, provider.AWS, "configure", "invalid IAM endpoint "+raw)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	p := &AWSProvider{
		endpoint: endpoint,
		doer:     cfg.Doer,
		now:      cfg.Now,
		deps:     deps,
		logger:   logger,
	}
	if p.doer == nil {
		p.doer = deps.httpClient()
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.SetCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Region)
	return p, nil
}

// SetCredentials sets the key pair checked by the next Authenticate call.
func (p *AWSProvider) SetCredentials(accessKeyID, secretAccessKey, region string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessKeyID = strings.TrimSpace(accessKeyID)
	p.secretKey.Destroy()
	p.secretKey = secure.NewSecureString(strings.TrimSpace(secretAccessKey))
	p.region = strings.TrimSpace(region)
}

// Identity implements provider.Provider.
func (p *AWSProvider) Identity() provider.Identity { return provider.AWS }

// Name implements provider.Provider.
func (p *AWSProvider) Name() string { return provider.AWS.DisplayName() }

// Scope implements provider.Provider.
func (p *AWSProvider) Scope() string { return string(provider.AWS) }

// Account returns the resolved IAM user name.
func (p *AWSProvider) Account() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

// Region returns the configured region. IAM is global, so it is only shown.
func (p *AWSProvider) Region() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.region == "" {
		return DefaultAWSRegion
	}
	return p.region
}

// IsAuthenticated implements provider.Provider.
func (p *AWSProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.liveKeyID != "" && !p.liveSecret.Empty() && p.username != ""
}

// Authenticate validates the key format locally, resolves the IAM user with
// GetUser and persists the key pair.
func (p *AWSProvider) Authenticate(ctx context.Context) error {
	p.mu.RLock()
	creds := sigv4.Credentials{AccessKeyID: p.accessKeyID}
	creds.SecretAccessKey, _ = p.secretKey.Reveal()
	p.mu.RUnlock()

	if err := sigv4.ValidateCredentials(creds); err != nil {
		return provider.NewError(provider.ErrInvalidCredentialFormat, provider.AWS, opAuthenticate, err.Error()).WithCause(err)
	}

	var out getUserResponse
	if err := p.call(ctx, creds, opAuthenticate, "GetUser", nil, &out); err != nil {
		return err
	}
	username := out.Result.User.UserName
	if username == "" {
		return provider.NewError(provider.ErrAPI, provider.AWS, opAuthenticate, "GetUser returned no user name")
	}

	if err := p.deps.Tokens.Store(awsAccessKeyScope, username, creds.AccessKeyID); err != nil {
		return provider.NewError(provider.ErrAPI, provider.AWS, opAuthenticate, "failed to save credentials").WithCause(err)
	}
	if err := p.deps.Tokens.Store(awsSecretKeyScope, username, creds.SecretAccessKey); err != nil {
		_ = p.deps.Tokens.Delete(awsAccessKeyScope, username)
		return provider.NewError(provider.ErrAPI, provider.AWS, opAuthenticate, "failed to save credentials").WithCause(err)
	}
	p.saveSettings(username, creds.AccessKeyID)
	p.setSession(username, creds)
	p.logger.Debug("Signed in to AWS as IAM user %s", username)
	return nil
}

// TryRestoreSession reloads the stored key pair for the remembered user.
func (p *AWSProvider) TryRestoreSession(ctx context.Context) (bool, error) {
	settings := p.deps.Settings
	username := settings.GetString(config.Key(string(provider.AWS), config.Username))
	if username == "" {
		return false, nil
	}

	keyID, ok, err := p.deps.Tokens.Retrieve(awsAccessKeyScope, username)
	if err != nil || !ok {
		return false, p.restoreError(err)
	}
	secret, ok, err := p.deps.Tokens.Retrieve(awsSecretKeyScope, username)
	if err != nil || !ok {
		return false, p.restoreError(err)
	}

	p.mu.Lock()
	if region := settings.GetString(config.Key(string(provider.AWS), config.Region)); region != "" {
		p.region = region
	}
	p.mu.Unlock()
	p.setSession(username, sigv4.Credentials{AccessKeyID: keyID, SecretAccessKey: secret})
	return true, nil
}

func (p *AWSProvider) restoreError(err error) error {
	if err == nil {
		return nil
	}
	return provider.NewError(provider.ErrAPI, provider.AWS, opRestore, "failed to read stored credentials").WithCause(err)
}

// ListKeys implements provider.Provider. IAM returns no key material in
// listings, so fingerprints are left empty.
func (p *AWSProvider) ListKeys(ctx context.Context) ([]provider.KeyMetadata, error) {
	creds, username, err := p.live(opListKeys)
	if err != nil {
		return nil, err
	}

	var keys []provider.KeyMetadata
	marker := ""
	for {
		params := map[string]string{"UserName": username}
		if marker != "" {
			params["Marker"] = marker
		}
		var out listSSHPublicKeysResponse
		if err := p.call(ctx, creds, opListKeys, "ListSSHPublicKeys", params, &out); err != nil {
			return nil, err
		}
		for _, m := range out.Result.Keys {
			keys = append(keys, m.metadata())
		}
		if !out.Result.IsTruncated || out.Result.Marker == "" {
			break
		}
		marker = out.Result.Marker
	}
	return keys, nil
}

// DeployKey uploads an ssh-rsa key. Other algorithms are rejected before any
// request is made.
func (p *AWSProvider) DeployKey(ctx context.Context, publicKey, title string) error {
	body, err := NormalizeAWSKey(publicKey)
	if err != nil {
		return err
	}
	creds, username, err := p.live(opDeployKey)
	if err != nil {
		return err
	}
	if title != "" {
		p.logger.Debug("IAM keys have no label; ignoring title %q", title)
	}

	params := map[string]string{"UserName": username, "SSHPublicKeyBody": body}
	return p.call(ctx, creds, opDeployKey, "UploadSSHPublicKey", params, nil)
}

// RemoveKey implements provider.Provider. id is the SSHPublicKeyId.
func (p *AWSProvider) RemoveKey(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return provider.NewError(provider.ErrNotFound, provider.AWS, opRemoveKey, "empty SSH public key id")
	}
	creds, username, err := p.live(opRemoveKey)
	if err != nil {
		return err
	}

	params := map[string]string{"UserName": username, "SSHPublicKeyId": id}
	return p.call(ctx, creds, opRemoveKey, "DeleteSSHPublicKey", params, nil)
}

// Disconnect clears the session and deletes both stored secrets.
func (p *AWSProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	username := p.username
	p.liveSecret.Destroy()
	p.liveSecret = nil
	p.liveKeyID, p.username = "", ""
	p.mu.Unlock()

	settings := p.deps.Settings
	if username == "" {
		username = settings.GetString(config.Key(string(provider.AWS), config.Username))
	}
	if username == "" {
		return nil
	}

	var errs []error
	for _, scope := range []string{awsAccessKeyScope, awsSecretKeyScope} {
		if err := p.deps.Tokens.Delete(scope, username); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return provider.NewError(provider.ErrAPI, provider.AWS, opDisconnect, "failed to delete stored credentials").WithCause(err)
	}
	for _, suffix := range []string{config.Username, config.AccessKeyID} {
		_ = settings.Delete(config.Key(string(provider.AWS), suffix))
	}
	return nil
}

func (p *AWSProvider) saveSettings(username, accessKeyID string) {
	settings := p.deps.Settings
	values := map[string]string{
		config.Username:    username,
		config.AccessKeyID: accessKeyID,
		config.Region:      p.Region(),
	}
	for suffix, v := range values {
		if err := settings.SetString(config.Key(string(provider.AWS), suffix), v); err != nil {
			p.logger.Warn("Failed to save AWS setting %s: %v", suffix, err)
		}
	}
}

func (p *AWSProvider) setSession(username string, creds sigv4.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liveSecret.Destroy()
	p.liveSecret = secure.NewSecureString(creds.SecretAccessKey)
	p.liveKeyID = creds.AccessKeyID
	p.username = username
}

func (p *AWSProvider) live(op string) (sigv4.Credentials, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.liveKeyID == "" || p.liveSecret.Empty() || p.username == "" {
		return sigv4.Credentials{}, "", notAuthenticated(provider.AWS, op)
	}
	secret, err := p.liveSecret.Reveal()
	if err != nil {
		return sigv4.Credentials{}, "", notAuthenticated(provider.AWS, op)
	}
	return sigv4.Credentials{AccessKeyID: p.liveKeyID, SecretAccessKey: secret}, p.username, nil
}

// call signs and sends one IAM action and decodes the XML result into out.
func (p *AWSProvider) call(ctx context.Context, creds sigv4.Credentials, op, action string, params map[string]string, out any) error {
	form := map[string]string{"Action": action, "Version": iamVersion}
	for k, v := range params {
		form[k] = v
	}
	body := []byte(sigv4.EncodeForm(form))
	timestamp := sigv4.FormatTime(p.now())

	sig, err := sigv4.Sign(sigv4.Request{
		Method:      http.MethodPost,
		Host:        p.endpoint.Host,
		Path:        "/",
		ContentType: sigv4.FormContentType,
		Body:        body,
	}, creds, sigv4.Scope{Region: iamSigningRegion, Service: "iam"}, timestamp)
	if err != nil {
		return provider.NewError(provider.ErrAPI, provider.AWS, op, "failed to sign request").WithCause(err)
	}

	client := transport.NewClient(transport.ClientConfig{
		Doer:        p.doer,
		BaseURL:     p.endpoint.String(),
		ServiceName: "iam",
		Logger:      p.deps.Logger,
	})
	resp, err := client.Do(ctx, http.MethodPost, "/", body, map[string]string{
		"Accept":        "text/xml",
		"Content-Type":  sigv4.FormContentType,
		"X-Amz-Date":    timestamp,
		"Authorization": sig.Authorization,
	})
	if err != nil {
		return iamError(op, err)
	}
	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(resp.Body, out); err != nil {
		return provider.NewError(provider.ErrAPI, provider.AWS, op, "unreadable "+action+" response").WithCause(err)
	}
	return nil
}

// iamError maps an IAM error document onto the shared taxonomy.
func iamError(op string, err error) error {
	var se *transport.StatusError
	if !errors.As(err, &se) {
		return wrapError(provider.AWS, op, err, nil)
	}

	var doc iamErrorResponse
	if xml.Unmarshal(se.Body, &doc) != nil || doc.Error.Code == "" {
		return wrapError(provider.AWS, op, err, nil)
	}
	code, msg := doc.Error.Code, doc.Error.Message
	signal := code + " " + msg

	var kind error
	var text string
	switch {
	case strings.Contains(signal, "AccessDenied"):
		kind = provider.ErrPermissionDenied
		text = fmt.Sprintf("access denied; the IAM user needs %s", strings.Join(awsRequiredPermissions, ", "))
	case strings.Contains(signal, "InvalidClientTokenId"):
		kind = provider.ErrInvalidCredential
		text = "the access key id is not valid or has been deactivated"
	case strings.Contains(signal, "SignatureDoesNotMatch"):
		kind = provider.ErrInvalidCredential
		text = "the secret access key does not match the access key id"
	case strings.Contains(signal, "NoSuchEntity"):
		kind = provider.ErrNotFound
		text = msg
	case strings.Contains(signal, "LimitExceeded"):
		kind = provider.ErrQuotaExceeded
		text = fmt.Sprintf("IAM allows at most %d SSH public keys per user; remove one first", IAMKeyLimit)
	default:
		kind = provider.ErrAPI
		text = code + ": " + msg
	}
	return provider.NewError(kind, provider.AWS, op, text).WithCause(err)
}

// NormalizeAWSKey validates key text for IAM upload. Only ssh-rsa is
// accepted. The comment is kept only when it looks like an email address.
func NormalizeAWSKey(publicKey string) (string, error) {
	if fields := strings.Fields(publicKey); len(fields) > 0 {
		if kt := sshkey.TypeOf(fields[0]); kt != "" && kt != provider.KeyTypeRSA {
			return "", unsupportedAWSKey(fields[0])
		}
	}
	k, err := sshkey.Parse(publicKey)
	if err != nil {
		return "", provider.NewError(provider.ErrInvalidFormat, provider.AWS, opDeployKey, err.Error()).WithCause(err)
	}
	if k.Algorithm != "ssh-rsa" {
		return "", unsupportedAWSKey(k.Algorithm)
	}
	if sshkey.LooksLikeEmail(k.Comment) {
		return k.AuthorizedKey() + " " + k.Comment, nil
	}
	return k.AuthorizedKey(), nil
}

func unsupportedAWSKey(algorithm string) error {
	return provider.NewError(provider.ErrUnsupportedKeyType, provider.AWS, opDeployKey,
		fmt.Sprintf("%s keys are not supported; AWS IAM only accepts ssh-rsa public keys", algorithm))
}

// AWSProfile holds long-lived credentials read from a shared config profile.
type AWSProfile struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// LoadAWSProfile reads credentials of a named profile from the shared AWS
// config and credentials files.
func LoadAWSProfile(ctx context.Context, profile string) (*AWSProfile, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS profile %q: %w", profile, err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials of AWS profile %q: %w", profile, err)
	}
	if creds.SessionToken != "" {
		return nil, provider.NewError(provider.ErrInvalidCredentialFormat, provider.AWS, opAuthenticate,
			"profile "+profile+" yields temporary credentials; use a long-lived access key")
	}
	return &AWSProfile{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		Region:          cfg.Region,
	}, nil
}

type getUserResponse struct {
	Result struct {
		User struct {
			UserName string `xml:"UserName"`
			UserID   string `xml:"UserId"`
			Arn      string `xml:"Arn"`
		} `xml:"User"`
	} `xml:"GetUserResult"`
}

type listSSHPublicKeysResponse struct {
	Result struct {
		Keys        []iamSSHKey `xml:"SSHPublicKeys>member"`
		IsTruncated bool        `xml:"IsTruncated"`
		Marker      string      `xml:"Marker"`
	} `xml:"ListSSHPublicKeysResult"`
}

type iamSSHKey struct {
	ID         string `xml:"SSHPublicKeyId"`
	Status     string `xml:"Status"`
	UploadDate string `xml:"UploadDate"`
}

func (k iamSSHKey) metadata() provider.KeyMetadata {
	md := provider.KeyMetadata{ID: k.ID, Title: k.ID}
	if k.Status != "" {
		md.Title = fmt.Sprintf("%s (%s)", k.ID, strings.ToLower(k.Status))
	}
	if t, err := time.Parse(time.RFC3339, k.UploadDate); err == nil {
		md.CreatedAt = &t
	}
	return md
}

type iamErrorResponse struct {
	Error struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
}
