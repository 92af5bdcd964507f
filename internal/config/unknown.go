package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxSuggestDistance = 3

// knownKeys are the valid dotted keys in the config file.
var knownKeys = map[string]bool{
	"sharepoint.tenant_id":     true,
	"sharepoint.client_id":     true,
	"sharepoint.client_secret": true,
	"sharepoint.site_hostname": true,
	"sharepoint.site_path":     true,
	"sharepoint.library_name":  true,

	"sync.max_file_size_mb":     true,
	"sync.include_extensions":   true,
	"sync.exclude_extensions":   true,
	"sync.include_paths":        true,
	"sync.path_patterns":        true,
	"sync.metadata_only":        true,
	"sync.verify_quickxor_hash": true,
	"sync.download_timeout":     true,
	"sync.max_parallel_drives":  true,

	"storage.instance_dir":  true,
	"storage.blob_root":     true,
	"storage.database_path": true,

	"worker.interval":     true,
	"worker.metrics_addr": true,

	"events.enabled": true,
	"events.url":     true,
	"events.stream":  true,
	"events.subject": true,

	"logging.level":  true,
	"logging.format": true,
}

// knownKeysList is the sorted slice form for deterministic suggestions when
// two candidates have the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error listing each unknown key with its closest known key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var msgs []string

	for _, key := range undecoded {
		name := key.String()

		if suggestion := closestKey(name); suggestion != "" {
			msgs = append(msgs, fmt.Sprintf("unknown config key %q (did you mean %q?)", name, suggestion))
		} else {
			msgs = append(msgs, fmt.Sprintf("unknown config key %q", name))
		}
	}

	return errors.New("config: " + strings.Join(msgs, "; "))
}

// closestKey returns the known key nearest to name within
// maxSuggestDistance, or "" when nothing is close enough.
func closestKey(name string) string {
	best := ""
	bestDist := maxSuggestDistance + 1

	for _, candidate := range knownKeysList {
		if d := levenshtein(name, candidate); d < bestDist {
			best = candidate
			bestDist = d
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i

		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
