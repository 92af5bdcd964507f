package sync

import (
	"path"
	"strings"

	"github.com/vsalomaa/spmirror/internal/config"
)

// Rejection reasons reported by the filter.
const (
	ReasonTooLarge         = "too_large"
	ReasonExtNotIncluded   = "extension_not_in_include_list"
	ReasonExtExcluded      = "extension_excluded"
	ReasonPathNotIncluded  = "path_not_included"
	ReasonPatternRejected  = "pattern_rejected"
	ReasonNoPatternMatched = "no_pattern_matched"
)

// Decision is the filter's verdict on one item.
type Decision struct {
	Included bool
	Reason   string // rejection reason, empty when included
}

// Filter is the pure eligibility predicate over (path, name, size). All rule
// sets are normalized at construction so Evaluate does no allocation-heavy
// work per item.
type Filter struct {
	maxSizeBytes int64
	includeExts  []string
	excludeExts  []string
	includePaths []string
	patterns     []string
}

// NewFilter builds a Filter from the sync config section. Extensions are
// lowercased and stripped of leading dots; include paths lose trailing
// slashes so boundary matching is uniform.
func NewFilter(cfg *config.SyncConfig) *Filter {
	f := &Filter{
		maxSizeBytes: cfg.MaxFileSizeMB * 1024 * 1024,
		includeExts:  normalizeExtensions(cfg.IncludeExtensions),
		excludeExts:  normalizeExtensions(cfg.ExcludeExtensions),
		patterns:     cfg.PathPatterns,
	}

	for _, prefix := range cfg.IncludePaths {
		f.includePaths = append(f.includePaths, strings.TrimSuffix(prefix, "/"))
	}

	return f
}

// Evaluate decides whether an item is eligible for mirroring. Rules apply in
// order: size cap, extension allow-list, extension deny-list, path prefix
// allow-list, then glob patterns (first match wins, "!" rejects).
func (f *Filter) Evaluate(itemPath, name string, size int64) Decision {
	if f.maxSizeBytes > 0 && size > f.maxSizeBytes {
		return Decision{Reason: ReasonTooLarge}
	}

	ext := extensionOf(name)

	if len(f.includeExts) > 0 && !contains(f.includeExts, ext) {
		return Decision{Reason: ReasonExtNotIncluded}
	}

	if contains(f.excludeExts, ext) {
		return Decision{Reason: ReasonExtExcluded}
	}

	if len(f.includePaths) > 0 && !f.underIncludedPath(itemPath) {
		return Decision{Reason: ReasonPathNotIncluded}
	}

	if len(f.patterns) > 0 {
		return f.evaluatePatterns(itemPath)
	}

	return Decision{Included: true}
}

// underIncludedPath reports whether itemPath sits under one of the allowed
// prefixes at a path boundary: equal to the prefix, or followed by "/".
func (f *Filter) underIncludedPath(itemPath string) bool {
	for _, prefix := range f.includePaths {
		if itemPath == prefix || strings.HasPrefix(itemPath, prefix+"/") {
			return true
		}
	}

	return false
}

// evaluatePatterns applies the glob list first-match-wins. A pattern with a
// leading "!" rejects on match; a plain pattern accepts. No match rejects.
func (f *Filter) evaluatePatterns(itemPath string) Decision {
	for _, pattern := range f.patterns {
		negate := strings.HasPrefix(pattern, "!")
		glob := strings.TrimPrefix(pattern, "!")

		// Validate guarantees the pattern compiles; a malformed glob that
		// slipped through never matches.
		matched, err := path.Match(glob, itemPath)
		if err != nil || !matched {
			continue
		}

		if negate {
			return Decision{Reason: ReasonPatternRejected}
		}

		return Decision{Included: true}
	}

	return Decision{Reason: ReasonNoPatternMatched}
}

// normalizeExtensions lowercases and strips leading dots so "PDF" and ".pdf"
// in config both match "report.pdf".
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))

	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out = append(out, ext)
		}
	}

	return out
}

// extensionOf returns the lowercased extension of name without the dot, ""
// when name has none.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}

	return strings.ToLower(name[i+1:])
}

func contains(list []string, s string) bool {
	for _, entry := range list {
		if entry == s {
			return true
		}
	}

	return false
}
