package cache

import "strings"

// Namespaces known to the service.
const (
	// NamespaceByCity holds one entry per city lookup, including absent results.
	NamespaceByCity = "weatherCache"
	// NamespaceAll holds the full record list under AllRecordsName.
	NamespaceAll = "weatherCacheAll"

	// AllRecordsName is the fixed entry name for the "all records" query.
	AllRecordsName = "all"

	// Separator joins namespace and name in backend keys. Namespaces never contain it.
	Separator = "::"
)

// Namespaces returns all known namespace names in a stable order.
func Namespaces() []string {
	return []string{NamespaceByCity, NamespaceAll}
}

// IsKnownNamespace reports whether ns is one of Namespaces.
func IsKnownNamespace(ns string) bool {
	for _, n := range Namespaces() {
		if n == ns {
			return true
		}
	}
	return false
}

// Key addresses one cache entry.
type Key struct {
	Namespace string
	Name      string
}

// CityKey is the per-city lookup key.
func CityKey(city string) Key {
	return Key{Namespace: NamespaceByCity, Name: city}
}

// AllRecordsKey is the key of the full record list.
func AllRecordsKey() Key {
	return Key{Namespace: NamespaceAll, Name: AllRecordsName}
}

// String returns the backend encoding namespace::name.
func (k Key) String() string {
	return k.Namespace + Separator + k.Name
}

// ParseKey decodes a backend key. The namespace ends at the first separator, so the
// name may itself contain "::".
func ParseKey(s string) (Key, bool) {
	ns, name, ok := strings.Cut(s, Separator)
	if !ok || ns == "" {
		return Key{}, false
	}
	return Key{Namespace: ns, Name: name}, true
}

// namespacePrefix is the backend prefix shared by every key in ns.
func namespacePrefix(ns string) string {
	return ns + Separator
}
