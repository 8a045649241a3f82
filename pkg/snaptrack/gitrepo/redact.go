package gitrepo

import (
	"net/url"
	"regexp"
	"strings"
)

const mask = "***"

var userinfoPattern = regexp.MustCompile(`(\w+://)[^/\s@]+@`)

// Redact removes credentials from text. Any URL userinfo is masked, and
// when remote is given its username and password are masked wherever they
// appear on their own.
func Redact(text string, remote ...string) string {
	for _, raw := range remote {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.User != nil {
			if pw, ok := u.User.Password(); ok && pw != "" {
				text = strings.ReplaceAll(text, pw, mask)
			}
			if name := u.User.Username(); len(name) >= 8 {
				// Tokens are often passed as the username alone.
				text = strings.ReplaceAll(text, name, mask)
			}
		}
	}
	return userinfoPattern.ReplaceAllString(text, "${1}"+mask+"@")
}

// RedactURL returns remote with its userinfo masked.
func RedactURL(remote string) string {
	return Redact(remote)
}
