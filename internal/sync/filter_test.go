package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vsalomaa/spmirror/internal/config"
)

func evaluate(cfg config.SyncConfig, itemPath, name string, size int64) Decision {
	return NewFilter(&cfg).Evaluate(itemPath, name, size)
}

func TestFilterDefaultAcceptsEverything(t *testing.T) {
	d := evaluate(config.SyncConfig{}, "/any/where/file.bin", "file.bin", 1<<30)

	assert.True(t, d.Included)
	assert.Empty(t, d.Reason)
}

func TestFilterSizeCap(t *testing.T) {
	cfg := config.SyncConfig{MaxFileSizeMB: 1}

	assert.True(t, evaluate(cfg, "/a.pdf", "a.pdf", 1024*1024).Included)

	d := evaluate(cfg, "/a.pdf", "a.pdf", 1024*1024+1)
	assert.False(t, d.Included)
	assert.Equal(t, ReasonTooLarge, d.Reason)
}

func TestFilterIncludeExtensions(t *testing.T) {
	cfg := config.SyncConfig{IncludeExtensions: []string{"PDF", ".docx"}}

	tests := []struct {
		name     string
		included bool
	}{
		{"report.pdf", true},
		{"report.PDF", true},
		{"memo.docx", true},
		{"notes.txt", false},
		{"no-extension", false},
		{"trailing-dot.", false},
	}

	for _, tc := range tests {
		d := evaluate(cfg, "/"+tc.name, tc.name, 10)
		assert.Equal(t, tc.included, d.Included, tc.name)

		if !tc.included {
			assert.Equal(t, ReasonExtNotIncluded, d.Reason, tc.name)
		}
	}
}

func TestFilterExcludeExtensions(t *testing.T) {
	cfg := config.SyncConfig{ExcludeExtensions: []string{"tmp", ".bak"}}

	assert.True(t, evaluate(cfg, "/keep.pdf", "keep.pdf", 10).Included)

	d := evaluate(cfg, "/drop.tmp", "drop.tmp", 10)
	assert.False(t, d.Included)
	assert.Equal(t, ReasonExtExcluded, d.Reason)

	d = evaluate(cfg, "/drop.BAK", "drop.BAK", 10)
	assert.False(t, d.Included)
	assert.Equal(t, ReasonExtExcluded, d.Reason)
}

func TestFilterExcludeBeatsNothingButFollowsInclude(t *testing.T) {
	// An extension in neither list fails the allow-list before the
	// deny-list is consulted.
	cfg := config.SyncConfig{
		IncludeExtensions: []string{"pdf"},
		ExcludeExtensions: []string{"pdf"},
	}

	d := evaluate(cfg, "/a.txt", "a.txt", 10)
	assert.Equal(t, ReasonExtNotIncluded, d.Reason)

	// Listed in both: the deny-list wins.
	d = evaluate(cfg, "/a.pdf", "a.pdf", 10)
	assert.Equal(t, ReasonExtExcluded, d.Reason)
}

func TestFilterIncludePathsMatchAtBoundary(t *testing.T) {
	cfg := config.SyncConfig{IncludePaths: []string{"/Reports", "/HR/Policies/"}}

	tests := []struct {
		path     string
		included bool
	}{
		{"/Reports", true},
		{"/Reports/q1.pdf", true},
		{"/Reports/2024/q1.pdf", true},
		{"/Reportsarchive/q1.pdf", false},
		{"/HR/Policies/leave.docx", true},
		{"/HR/Policiesdraft/leave.docx", false},
		{"/Other/q1.pdf", false},
	}

	for _, tc := range tests {
		d := evaluate(cfg, tc.path, "x.pdf", 10)
		assert.Equal(t, tc.included, d.Included, tc.path)

		if !tc.included {
			assert.Equal(t, ReasonPathNotIncluded, d.Reason, tc.path)
		}
	}
}

func TestFilterPatternsFirstMatchWins(t *testing.T) {
	cfg := config.SyncConfig{PathPatterns: []string{
		"!/Reports/drafts/*",
		"/Reports/*",
	}}

	d := evaluate(cfg, "/Reports/final.pdf", "final.pdf", 10)
	assert.True(t, d.Included)

	d = evaluate(cfg, "/Reports/drafts/wip.pdf", "wip.pdf", 10)
	assert.False(t, d.Included)
	assert.Equal(t, ReasonPatternRejected, d.Reason)

	// path.Match's "*" does not cross "/": deeper paths match neither
	// pattern and are rejected.
	d = evaluate(cfg, "/Reports/2024/q1.pdf", "q1.pdf", 10)
	assert.False(t, d.Included)
	assert.Equal(t, ReasonNoPatternMatched, d.Reason)
}

func TestFilterNoPatternMatchRejects(t *testing.T) {
	cfg := config.SyncConfig{PathPatterns: []string{"/Reports/*"}}

	d := evaluate(cfg, "/Other/file.pdf", "file.pdf", 10)
	assert.False(t, d.Included)
	assert.Equal(t, ReasonNoPatternMatched, d.Reason)
}

func TestFilterRuleOrder(t *testing.T) {
	cfg := config.SyncConfig{
		MaxFileSizeMB:     1,
		IncludeExtensions: []string{"pdf"},
		IncludePaths:      []string{"/Reports"},
		PathPatterns:      []string{"/Reports/*"},
	}

	// Size is checked before everything else.
	d := evaluate(cfg, "/Reports/big.pdf", "big.pdf", 10<<20)
	assert.Equal(t, ReasonTooLarge, d.Reason)

	// Extension before path.
	d = evaluate(cfg, "/Other/a.txt", "a.txt", 10)
	assert.Equal(t, ReasonExtNotIncluded, d.Reason)

	// Path prefix before patterns.
	d = evaluate(cfg, "/Other/a.pdf", "a.pdf", 10)
	assert.Equal(t, ReasonPathNotIncluded, d.Reason)

	// All rules pass.
	d = evaluate(cfg, "/Reports/a.pdf", "a.pdf", 10)
	assert.True(t, d.Included)
}

func TestFilterNoSizeCapWhenZero(t *testing.T) {
	d := evaluate(config.SyncConfig{MaxFileSizeMB: 0}, "/huge.iso", "huge.iso", 1<<40)
	assert.True(t, d.Included)
}
