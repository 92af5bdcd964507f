package graph

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteResolvesByHostAndPath(t *testing.T) {
	var gotPath string

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		writeJSON(t, w, map[string]any{
			"id":          "contoso.sharepoint.com,guid1,guid2",
			"displayName": "Engineering",
			"name":        "engineering",
			"webUrl":      "https://contoso.sharepoint.com/sites/engineering",
		})
	}))

	site, err := c.Site(context.Background(), "contoso.sharepoint.com", "/sites/engineering")
	require.NoError(t, err)

	assert.Equal(t, "/sites/contoso.sharepoint.com:/sites/engineering", gotPath)
	assert.Equal(t, "contoso.sharepoint.com,guid1,guid2", site.ID)
	assert.Equal(t, "Engineering", site.Name)
}

func TestSiteAddsLeadingSlashAndFallsBackToName(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"id":   "site-id",
			"name": "team-site",
		})
	}))

	site, err := c.Site(context.Background(), "contoso.sharepoint.com", "sites/team")
	require.NoError(t, err)
	assert.Equal(t, "team-site", site.Name)
}

func TestSiteNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.Site(context.Background(), "contoso.sharepoint.com", "/sites/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEncodePathSegments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "/sites/engineering", "/sites/engineering"},
		{"space", "/sites/team site", "/sites/team%20site"},
		{"hash", "/sites/c#-guild", "/sites/c%23-guild"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, encodePathSegments(tc.in))
		})
	}
}

func TestDrivesPagination(t *testing.T) {
	var baseURL string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sites/site1/drives", r.URL.Path)

		if r.URL.Query().Get("skiptoken") == "n1" {
			writeJSON(t, w, map[string]any{
				"value": []map[string]any{
					{"id": "d2", "name": "Archive", "driveType": "documentLibrary"},
				},
			})

			return
		}

		writeJSON(t, w, map[string]any{
			"value": []map[string]any{
				{"id": "d1", "name": "Documents", "driveType": "documentLibrary"},
			},
			"@odata.nextLink": baseURL + "/sites/site1/drives?skiptoken=n1",
		})
	})

	c, srv := newTestClient(t, handler)
	baseURL = srv.URL

	drives, err := c.Drives(context.Background(), "site1")
	require.NoError(t, err)
	require.Len(t, drives, 2)

	assert.Equal(t, "d1", drives[0].ID)
	assert.Equal(t, "Documents", drives[0].Name)
	assert.Equal(t, "d2", drives[1].ID)
}
