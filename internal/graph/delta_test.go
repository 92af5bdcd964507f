package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaPagination(t *testing.T) {
	var baseURL string

	// Both pages share the path; dispatch on the token query param.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/drives/d1/root/delta", r.URL.Path)

		if r.URL.Query().Get("token") == "page2" {
			writeJSON(t, w, map[string]any{
				"value": []map[string]any{
					{"id": "b", "name": "b.txt", "size": 2, "file": map[string]any{}},
				},
				"@odata.deltaLink": baseURL + "/drives/d1/root/delta?token=final",
			})

			return
		}

		writeJSON(t, w, map[string]any{
			"value": []map[string]any{
				{"id": "a", "name": "a.txt", "size": 1, "file": map[string]any{}},
			},
			"@odata.nextLink": baseURL + "/drives/d1/root/delta?token=page2",
		})
	})

	c, srv := newTestClient(t, handler)
	baseURL = srv.URL

	page1, err := c.Delta(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Len(t, page1.Items, 1)
	assert.Equal(t, "a", page1.Items[0].ID)
	assert.NotEmpty(t, page1.NextLink)
	assert.Empty(t, page1.DeltaLink)

	page2, err := c.Delta(context.Background(), "d1", page1.NextLink)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "b", page2.Items[0].ID)
	assert.Empty(t, page2.NextLink)
	assert.Contains(t, page2.DeltaLink, "token=final")
}

func TestDeltaGone(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		fmt.Fprint(w, `{"error":{"code":"resyncRequired"}}`)
	}))

	_, err := c.Delta(context.Background(), "d1", "https://graph.microsoft.com/v1.0/drives/d1/root/delta?token=expired")
	require.ErrorIs(t, err, ErrGone)
}

func TestDeltaDedupesRepeatedIDs(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"value": []map[string]any{
				{"id": "x", "name": "old.txt", "size": 1, "file": map[string]any{}},
				{"id": "y", "name": "other.txt", "size": 5, "file": map[string]any{}},
				{"id": "x", "name": "new.txt", "size": 2, "file": map[string]any{}},
			},
			"@odata.deltaLink": "https://graph.microsoft.com/v1.0/drives/d1/root/delta?token=t",
		})
	}))

	page, err := c.Delta(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	// Order preserved, last occurrence wins.
	assert.Equal(t, "y", page.Items[0].ID)
	assert.Equal(t, "x", page.Items[1].ID)
	assert.Equal(t, "new.txt", page.Items[1].Name)
}

func TestBuildDeltaPath(t *testing.T) {
	c := NewClient("https://graph.microsoft.com/v1.0", nil, StaticTokenSource("t"), testLogger())

	tests := []struct {
		name string
		link string
		want string
	}{
		{"empty link", "", "/drives/d1/root/delta"},
		{"opaque token", "stored-cursor", "/drives/d1/root/delta"},
		{
			"full url",
			"https://graph.microsoft.com/v1.0/drives/d1/root/delta?token=abc",
			"/drives/d1/root/delta?token=abc",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.buildDeltaPath("d1", tc.link))
		})
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
