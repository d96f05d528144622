package providers

import (
	"net/url"
	"strings"

	"github.com/systmms/keysync/pkg/provider"
)

// instance is the normalised root URL of a self-hosted installation.
type instance struct {
	url  string
	host string
	def  bool
}

func parseInstance(id provider.Identity, raw, defaultURL string) (*instance, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, provider.NewError(provider.ErrInvalidFormat, id, "configure",
			"instance URL must be an absolute http(s) URL, got "+raw)
	}
	u.RawQuery, u.Fragment = "", ""
	normalised := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
	return &instance{
		url:  normalised,
		host: strings.ToLower(u.Host),
		def:  defaultURL != "" && normalised == defaultURL,
	}, nil
}

// scope is "{provider}:{instance_url}".
func (i *instance) scope(id provider.Identity) string {
	return string(id) + ":" + i.url
}

// name includes the host unless this is the public default instance.
func (i *instance) name(id provider.Identity) string {
	if i.def {
		return id.DisplayName()
	}
	return id.DisplayName() + " (" + i.host + ")"
}
