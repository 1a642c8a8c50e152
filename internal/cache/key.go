package cache

import (
	"net/url"
	"strings"

	"tasklist-api/internal/filter"
)

const (
	OpList  = "list"
	OpStats = "stats"
)

// Key identifies one cached result: who asked, for what, with which filters.
type Key struct {
	Operation string
	Identity  string
	Parts     []filter.KeyPart
}

// String converts the structured key into the final string used in the map or Redis.
//
//	tasks:<OP>:<IDENTITY>[:<NAME>=<VALUE>...]
//
// Identity and values are query-escaped so user input cannot forge a separator.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString("tasks:")
	b.WriteString(k.Operation)
	b.WriteByte(':')
	b.WriteString(url.QueryEscape(k.Identity))
	for _, p := range k.Parts {
		b.WriteByte(':')
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// ListKey builds the key for one filtered page of an identity's tasks.
func ListKey(identity string, f filter.FilterSpec) Key {
	return Key{
		Operation: OpList,
		Identity:  identity,
		Parts:     f.KeyParts(),
	}
}

// StatsKey builds the key for an identity's aggregate statistics.
func StatsKey(identity string) Key {
	return Key{Operation: OpStats, Identity: identity}
}

type keyParts struct {
	operation string
	identity  string
}

// parseKey extracts operation and identity from Key.String() output.
func parseKey(key string) (keyParts, bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) < 3 || parts[0] != "tasks" {
		return keyParts{}, false
	}
	identity, err := url.QueryUnescape(parts[2])
	if err != nil {
		return keyParts{}, false
	}
	return keyParts{operation: parts[1], identity: identity}, true
}
