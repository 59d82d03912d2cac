package shared

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	hex32Pattern = regexp.MustCompile(`[0-9a-fA-F]{32}`)
	uuidPattern  = regexp.MustCompile(`^[0-9a-fA-F-]{36}$`)
)

// NormalizeID accepts a hyphenated UUID, a bare 32 character hex id or a share URL
// and returns the lower-case hyphenated form.
//
// URLs are searched for a 32 character hex run in the path first and then in the
// p, pageId and page_id query parameters.
func NormalizeID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidIdentifier)
	}

	if uuidPattern.MatchString(s) && strings.Contains(s, "-") {
		return strings.ToLower(s), nil
	}

	if len(s) == 32 && hex32Pattern.MatchString(s) {
		return hyphenate(s), nil
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "notion://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
		}

		if m := hex32Pattern.FindString(u.Path); m != "" {
			return hyphenate(m), nil
		}

		q := u.Query()
		for _, key := range []string{"p", "pageId", "page_id"} {
			for _, v := range q[key] {
				if len(v) == 32 && hex32Pattern.MatchString(v) {
					return hyphenate(v), nil
				}
			}
		}
		return "", fmt.Errorf("%w: no page id in %q", ErrInvalidIdentifier, s)
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
}

func hyphenate(h string) string {
	h = strings.ToLower(h)
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

const maxSlugLength = 60

// Slug turns a title into a directory-safe name. Runs of characters other than
// letters, digits, '_' and '-' collapse to a single '_'. Empty results become "page".
func Slug(title string) string {
	var b strings.Builder
	gap := false
	n := 0
	for _, r := range title {
		if n >= maxSlugLength {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
			gap = false
			n++
			continue
		}
		if !gap {
			b.WriteRune('_')
			gap = true
			n++
		}
	}

	out := b.String()
	if strings.Trim(out, "_") == "" {
		return "page"
	}
	return out
}

// SplitList splits a comma and/or whitespace separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, ",") {
		out = append(out, strings.Fields(seg)...)
	}
	return out
}

// MergeUnique appends the items of each list in order, skipping duplicates and blanks.
func MergeUnique(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
