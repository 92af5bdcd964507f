package graph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(b []byte) *json.RawMessage {
	m := json.RawMessage(b)
	return &m
}

func TestToItemNormalizesFields(t *testing.T) {
	raw := driveItemResponse{
		ID:                   "item1",
		Name:                 "Report%20Q3.docx",
		Size:                 2048,
		WebURL:               "https://contoso.sharepoint.com/doc",
		CreatedDateTime:      "2024-03-01T10:00:00Z",
		LastModifiedDateTime: "2024-03-02T11:30:00Z",
		ParentReference: &parentRef{
			ID:      "folder1",
			DriveID: "B!AbCdEf",
			Path:    "/drives/b!abcdef/root:/Projects/2024",
		},
		CreatedBy:      &identitySet{User: &identity{DisplayName: "Alice"}},
		LastModifiedBy: &identitySet{User: &identity{DisplayName: "Bob"}},
		File: &fileFacet{
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Hashes: &hashFacet{
				QuickXorHash: "aCgDG9jwBgAAAAAABQAAAAAAAAA=",
				SHA256Hash:   "2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824",
			},
		},
		DownloadURL: "https://cdn.example.com/presigned",
	}

	item := raw.toItem(testLogger())

	assert.Equal(t, "item1", item.ID)
	assert.Equal(t, "Report Q3.docx", item.Name)
	assert.Equal(t, "b!abcdef", item.DriveID)
	assert.Equal(t, "/Projects/2024", item.ParentPath)
	assert.Equal(t, "/Projects/2024/Report Q3.docx", item.Path())
	assert.Equal(t, int64(2048), item.Size)
	assert.Equal(t, "Alice", item.CreatedBy)
	assert.Equal(t, "Bob", item.LastModifiedBy)
	assert.Equal(t, "aCgDG9jwBgAAAAAABQAAAAAAAAA=", item.QuickXorHash)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", item.SHA256Hash)
	assert.Equal(t, "https://cdn.example.com/presigned", item.DownloadURL)
	assert.False(t, item.IsFolder)
	assert.False(t, item.IsDeleted)

	createdAt, err := time.Parse(time.RFC3339, "2024-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, item.CreatedAt.Equal(createdAt))
}

func TestToItemFacets(t *testing.T) {
	empty := []byte(`{}`)

	tests := []struct {
		name  string
		raw   driveItemResponse
		check func(t *testing.T, item Item)
	}{
		{
			name: "folder",
			raw: driveItemResponse{
				ID:     "f1",
				Name:   "Docs",
				Folder: &folderFacet{ChildCount: 3},
			},
			check: func(t *testing.T, item Item) {
				t.Helper()
				assert.True(t, item.IsFolder)
				assert.False(t, item.IsDeleted)
			},
		},
		{
			name: "root",
			raw: driveItemResponse{
				ID:     "r1",
				Name:   "root",
				Root:   rawMessage(empty),
				Folder: &folderFacet{},
			},
			check: func(t *testing.T, item Item) {
				t.Helper()
				assert.True(t, item.IsRoot)
			},
		},
		{
			name: "package",
			raw: driveItemResponse{
				ID:      "p1",
				Name:    "Notebook",
				Package: rawMessage(empty),
			},
			check: func(t *testing.T, item Item) {
				t.Helper()
				assert.True(t, item.IsPackage)
			},
		},
		{
			name: "deleted clears hashes and download URL",
			raw: driveItemResponse{
				ID:      "d1",
				Name:    "gone.txt",
				Deleted: rawMessage(empty),
				File: &fileFacet{
					Hashes: &hashFacet{QuickXorHash: "stale", SHA256Hash: "stale"},
				},
				DownloadURL: "https://cdn.example.com/stale",
			},
			check: func(t *testing.T, item Item) {
				t.Helper()
				assert.True(t, item.IsDeleted)
				assert.Empty(t, item.QuickXorHash)
				assert.Empty(t, item.SHA256Hash)
				assert.Empty(t, item.DownloadURL)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, tc.raw.toItem(testLogger()))
		})
	}
}

func TestParseParentPath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "/"},
		{"drive root", "/drives/b!abc/root:", "/"},
		{"nested", "/drives/b!abc/root:/Projects/2024", "/Projects/2024"},
		{"percent encoded", "/drives/b!abc/root:/My%20Docs", "/My Docs"},
		{"no root marker", "/drives/b!abc", "/"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseParentPath(tc.raw))
		})
	}
}

func TestItemPath(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want string
	}{
		{"root entry", Item{Name: "root", IsRoot: true}, "/"},
		{"top level", Item{Name: "a.txt", ParentPath: "/"}, "/a.txt"},
		{"missing parent", Item{Name: "a.txt"}, "/a.txt"},
		{"nested", Item{Name: "a.txt", ParentPath: "/x/y"}, "/x/y/a.txt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.item.Path())
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	logger := testLogger()

	t.Run("valid", func(t *testing.T) {
		got := parseTimestamp("2024-06-15T08:00:00Z", "f", "id", logger)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, time.June, got.Month())
	})

	for _, raw := range []string{"", "not-a-time", "1601-01-01T00:00:00Z", "2222-01-01T00:00:00Z"} {
		t.Run("fallback "+raw, func(t *testing.T) {
			got := parseTimestamp(raw, "f", "id", logger)
			assert.WithinDuration(t, time.Now().UTC(), got, time.Minute)
		})
	}
}

func TestNormalizeName(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.docx", "report.docx"},
		{"percent encoded", "My%20Report.docx", "My Report.docx"},
		{"malformed escape kept", "50%_done.txt", "50%_done.txt"},
		{"nfd to nfc", "Ångström.txt", "Ångström.txt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeName(tc.in, logger))
		})
	}
}
