//go:build property

package transform

import (
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var slugShape = regexp.MustCompile(`^([A-Za-z0-9]+(-[A-Za-z0-9]+)*)?$`)

func TestPlaceIDProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)

	properties.Property("slug is ascii, hyphen separated and idempotent", prop.ForAll(
		func(s string) bool {
			slug := Slug(s)
			return slugShape.MatchString(slug) && Slug(slug) == slug
		},
		gen.AnyString(),
	))

	properties.Property("place id carries the source prefix exactly once", prop.ForAll(
		func(source, name string) bool {
			id := PlaceID(source, name)
			if !strings.HasPrefix(id, source) {
				return false
			}
			return normalizeID(source, id) == id || id == source
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.Property("repairs never modify their input", prop.ForAll(
		func(all, current int) bool {
			entry := map[string]any{"num_all": float64(all), "num_current": float64(current)}
			fixed := Rename("num_current", "num_free", 2)(entry, 1)
			if fixed["num_free"] != float64(current) {
				return false
			}
			_, hasFree := entry["num_free"]
			return !hasFree && entry["num_current"] == float64(current)
		},
		gen.IntRange(0, 5000),
		gen.IntRange(0, 5000),
	))

	properties.TestingRun(t)
}
