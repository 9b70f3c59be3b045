package redis

import "strings"

const (
	keyNamespace      = "bk"
	idempotencyPrefix = "idempotency"
	cachePrefix       = "cache"
	lockPrefix        = "lock"
	sessionPrefix     = "session"
)

// IdempotencyKey namespaces a client Idempotency-Key under its request scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key(idempotencyPrefix, scope, id)
}

func (c *Client) CacheKey(parts ...string) string {
	return key(append([]string{cachePrefix}, parts...)...)
}

func (c *Client) LockKey(name string) string {
	return key(lockPrefix, name)
}

// AccessSessionKey addresses the refresh session bound to an access token id.
func (c *Client) AccessSessionKey(accessID string) string {
	return key(sessionPrefix, "access", accessID)
}

// key joins the trimmed non-empty parts under the bk namespace.
func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
