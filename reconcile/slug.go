package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

const maxSlugLen = 255

var (
	reSlugStrip = regexp.MustCompile(`[^a-z0-9 -]`)
	reSlugSpace = regexp.MustCompile(`\s+`)
	reSlugDash  = regexp.MustCompile(`-+`)
)

// Slugify turns a thread title into a url-safe slug: lowercase, drop
// anything outside [a-z0-9 -], whitespace and dash runs collapse to a
// single dash, trimmed, capped at 255. The result matches
// ^[a-z0-9]+(-[a-z0-9]+)*$ or is empty.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = reSlugStrip.ReplaceAllString(s, "")
	s = reSlugSpace.ReplaceAllString(s, "-")
	s = reSlugDash.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}

// slugSuffix disambiguates colliding slugs from distinct titles. The suffix
// is stable per thread, so re-runs regenerate the same slug.
func slugSuffix(threadID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(threadID, 10)))
	return hex.EncodeToString(sum[:])[:6]
}

// suffixedSlug appends the collision suffix, keeping the total within the
// column limit.
func suffixedSlug(base string, threadID int64) string {
	suffix := slugSuffix(threadID)
	if base == "" {
		return suffix
	}
	if len(base)+1+len(suffix) > maxSlugLen {
		base = strings.Trim(base[:maxSlugLen-1-len(suffix)], "-")
	}
	return base + "-" + suffix
}
