package redis

import (
	"strings"
)

const keySeparator = ":"

// Keyspace builds the keys for one namespace. The namespace is wrapped in a
// cluster hash tag so that every key of a namespace lands on the same slot,
// which MULTI/EXEC across several keys requires on a cluster.
type Keyspace struct {
	prefix string
}

func NewKeyspace(namespace string) Keyspace {
	if namespace == "" {
		return Keyspace{}
	}
	return Keyspace{prefix: "{" + namespace + "}" + keySeparator}
}

// Key joins parts with ':' under the namespace. A trailing empty part gives
// the trailing separator used by singleton keys, eg Key("market", "") is
// "{ns}:market:".
func (k Keyspace) Key(parts ...string) string {
	return k.prefix + strings.Join(parts, keySeparator)
}
