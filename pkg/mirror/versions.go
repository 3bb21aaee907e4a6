package mirror

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"pkgmirror/pkg/registry"
)

// SortVersions orders version strings by semantic version precedence,
// highest first. Strings that do not parse follow all valid versions in
// lexical descending order.
func SortVersions(versions []string) []string {
	type parsed struct {
		raw string
		v   *semver.Version
	}

	items := make([]parsed, 0, len(versions))
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			v = nil
		}
		items = append(items, parsed{raw: raw, v: v})
	}

	slices.SortStableFunc(items, func(a, b parsed) int {
		switch {
		case a.v != nil && b.v != nil:
			if c := b.v.Compare(a.v); c != 0 {
				return c
			}
			// equal precedence, e.g. differing build metadata
			return strings.Compare(b.raw, a.raw)
		case a.v != nil:
			return -1
		case b.v != nil:
			return 1
		default:
			return strings.Compare(b.raw, a.raw)
		}
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.raw
	}
	return out
}

// SelectVersions returns the n highest versions. n <= 0 keeps all.
func SelectVersions(versions []registry.Version, n int) []registry.Version {
	byName := make(map[string]registry.Version, len(versions))
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		if _, dup := byName[v.Version]; dup {
			continue
		}
		byName[v.Version] = v
		names = append(names, v.Version)
	}

	names = SortVersions(names)
	if n > 0 && len(names) > n {
		names = names[:n]
	}

	out := make([]registry.Version, len(names))
	for i, name := range names {
		out[i] = byName[name]
	}
	return out
}
