package transform

// VersionKey is the schema version tag embedded in raw entries.
const VersionKey = "v"

// Version detects the schema version of a raw entry. Entries without a
// usable tag are version 1, the oldest and most permissive rules.
func Version(entry any) int {
	m, ok := entry.(map[string]any)
	if !ok {
		return 1
	}
	v := Int(m[VersionKey])
	if v == nil || *v < 1 {
		return 1
	}
	return *v
}

// Repair rewrites a raw entry of the given version into the current shape.
// Implementations return a new map and never modify entry, since the stored
// payload stays the source of truth and repairs may be revised later.
type Repair func(entry map[string]any, version int) map[string]any

func clone(entry map[string]any) map[string]any {
	out := make(map[string]any, len(entry)+1)
	for k, v := range entry {
		out[k] = v
	}
	return out
}

// Rename moves field `from` to `to` for entries older than version
// `fixedIn`, for providers whose field names changed without a change in
// meaning. An existing `to` field is left as is.
func Rename(from, to string, fixedIn int) Repair {
	return func(entry map[string]any, version int) map[string]any {
		if version >= fixedIn {
			return entry
		}
		v, ok := entry[from]
		if !ok {
			return entry
		}
		out := clone(entry)
		delete(out, from)
		if _, taken := entry[to]; !taken {
			out[to] = v
		}
		return out
	}
}

// Swap exchanges two fields for entries older than version `fixedIn`, for
// providers that historically published free and occupied counts inverted.
func Swap(a, b string, fixedIn int) Repair {
	return func(entry map[string]any, version int) map[string]any {
		if version >= fixedIn {
			return entry
		}
		out := clone(entry)
		va, okA := entry[a]
		vb, okB := entry[b]
		delete(out, a)
		delete(out, b)
		if okA {
			out[b] = va
		}
		if okB {
			out[a] = vb
		}
		return out
	}
}

// Chain applies repairs in order.
func Chain(repairs ...Repair) Repair {
	return func(entry map[string]any, version int) map[string]any {
		for _, r := range repairs {
			if r != nil {
				entry = r(entry, version)
			}
		}
		return entry
	}
}
