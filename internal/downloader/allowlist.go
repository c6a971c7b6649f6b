package downloader

import (
	"fmt"
	"net/url"
	"strings"

	errs "likegrab/pkg/errors"
)

// Allowlist decides which hosts media may be fetched from. Entries are exact
// host names; an entry of the form host:port also admits that port.
type Allowlist struct {
	entries map[string]struct{}
}

// NewAllowlist builds an allowlist from host entries
func NewAllowlist(hosts []string) *Allowlist {
	a := &Allowlist{entries: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = normalizeHost(h)
		if h != "" {
			a.entries[h] = struct{}{}
		}
	}
	return a
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, port, ok := strings.Cut(h, ":"); ok && !strings.Contains(port, ":") {
		return strings.TrimSuffix(host, ".") + ":" + port
	}
	return strings.TrimSuffix(h, ".")
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// Check returns a policy error unless u may be fetched
func (a *Allowlist) Check(u *url.URL) error {
	if u == nil {
		return errs.Policy("missing url")
	}
	scheme := strings.ToLower(u.Scheme)
	def, ok := defaultPorts[scheme]
	if !ok {
		return errs.Policy(fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}
	if u.User != nil {
		return errs.Policy("urls with credentials are not allowed")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return errs.Policy("missing host")
	}
	port := u.Port()

	if port == "" || port == def {
		if _, ok := a.entries[host]; ok {
			return nil
		}
	}
	if port != "" {
		if _, ok := a.entries[host+":"+port]; ok {
			return nil
		}
	}
	return errs.Policy(fmt.Sprintf("host %q is not allowed", u.Host))
}

// CheckString parses raw and checks it
func (a *Allowlist) CheckString(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errs.Policy(fmt.Sprintf("unparseable url: %v", err))
	}
	if err := a.Check(u); err != nil {
		return nil, err
	}
	return u, nil
}
