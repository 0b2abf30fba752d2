package cards

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	slug := Slugify("Aster, the Wandering Cartographer!")
	if !strings.HasPrefix(slug, "aster-the-wandering-cartographer-") {
		t.Errorf("slug = %q", slug)
	}
	if strings.ContainsAny(slug, " ,!") {
		t.Errorf("slug has invalid characters: %q", slug)
	}

	// Identical names must not collide.
	if Slugify("Aster") == Slugify("Aster") {
		t.Error("identical names produced identical slugs")
	}

	long := Slugify(strings.Repeat("very long name ", 20))
	base := long[:strings.LastIndex(long, "-")]
	if len(base) > 48 {
		t.Errorf("base slug length = %d, want <= 48", len(base))
	}

	empty := Slugify("!!!")
	if empty == "" {
		t.Error("unrepresentable name produced empty slug")
	}
}
