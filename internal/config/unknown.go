package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to its valid keys.
var knownKeys = map[string][]string{
	"backend": {"base_url", "default_provider", "signin_route"},
	"storage": {"backend", "data_dir"},
	"login":   {"callback_addr", "callback_path", "open_browser"},
	"network": {"timeout", "user_agent"},
	"logging": {"level", "format"},
	"bucket":  {"max_password_attempts", "parallel_downloads"},
}

// knownSections is the sorted list of section names for Levenshtein matching.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		if len(key) == 1 {
			// A bare top-level key is usually a section key written outside
			// its table.
			if owner, found := sectionOf(section); found {
				return fmt.Errorf("unknown config key %q; did you mean [%s] %s?", section, owner, section)
			}
		}

		if s := closestMatch(section, knownSections); s != "" {
			return fmt.Errorf("unknown config section %q; did you mean %q?", section, s)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	field := key[len(key)-1]
	if s := closestMatch(field, keys); s != "" {
		return fmt.Errorf("unknown config key %q in [%s]; did you mean %q?", field, section, s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// sectionOf returns the section that defines key, if any.
func sectionOf(key string) (string, bool) {
	for _, section := range knownSections {
		for _, k := range knownKeys[section] {
			if k == key {
				return section, true
			}
		}
	}

	return "", false
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
