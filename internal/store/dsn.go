package store

import (
	"net/url"
	"strings"
)

// EscapeURLCredentials re-encodes the userinfo of a URL-style DSN
// (postgres://, sqlserver://, oracle://) so passwords containing @, # or %
// do not confuse the URL parser. The last "@" before the path separates
// credentials from the host; the first ":" separates user from password.
// DSNs without a scheme or without credentials are returned unchanged.
func EscapeURLCredentials(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 {
		return dsn
	}
	scheme, rest := dsn[:schemeEnd], dsn[schemeEnd+3:]

	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		rest, query = rest[:qi], rest[qi:]
	}

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return dsn
	}
	userinfo, hostpath := rest[:at], rest[at+1:]

	user, pass, hasPass := strings.Cut(userinfo, ":")
	user = escapeUserinfo(user)
	if !hasPass {
		return scheme + "://" + user + "@" + hostpath + query
	}
	return scheme + "://" + user + ":" + escapeUserinfo(pass) + "@" + hostpath + query
}

// escapeUserinfo percent-encodes s, first undoing any encoding the caller
// already applied so escaping is idempotent.
func escapeUserinfo(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		s = u
	}
	return url.PathEscape(s)
}

// RedactDSN hides the password of a URL-style DSN for logging.
func RedactDSN(dsn string) string {
	u, err := url.Parse(EscapeURLCredentials(dsn))
	if err != nil || u.User == nil {
		if i := strings.LastIndex(dsn, "@"); i > 0 {
			if j := strings.Index(dsn[:i], ":"); j >= 0 && !strings.Contains(dsn[:j], "//") {
				return dsn[:j+1] + "xxxxx" + dsn[i:]
			}
		}
		return dsn
	}
	return u.Redacted()
}
