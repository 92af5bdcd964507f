package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// deltaResponse mirrors the Graph API delta response JSON.
// Unexported: callers receive normalized DeltaPage values.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// Delta fetches one page of delta changes for a drive. Pass an empty link
// for a full enumeration from the drive root; otherwise pass the NextLink
// or DeltaLink from a previous page (full URLs, converted to paths here).
// HTTP 410 surfaces ErrGone: the cursor expired and the caller must restart
// from a full enumeration. The page is fully materialized before return.
func (c *Client) Delta(ctx context.Context, driveID, link string) (*DeltaPage, error) {
	path := c.buildDeltaPath(driveID, link)

	c.logger.Debug("fetching delta page",
		slog.String("drive_id", driveID),
		slog.Bool("initial", link == ""),
	)

	var dr deltaResponse
	if err := c.getJSON(ctx, path, &dr); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem(c.logger))
	}

	items = dedupeItems(items, c.logger)

	c.logger.Debug("fetched delta page",
		slog.String("drive_id", driveID),
		slog.Int("items", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{
		Items:     items,
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}, nil
}

// buildDeltaPath returns the request path for a delta fetch: the drive root
// delta endpoint for an empty link, otherwise the link with the base URL
// stripped.
func (c *Client) buildDeltaPath(driveID, link string) string {
	if link == "" || !strings.HasPrefix(link, "http") {
		return fmt.Sprintf("/drives/%s/root/delta", driveID)
	}

	return c.stripBaseURL(link)
}

// dedupeItems drops earlier occurrences of an item id repeated within one
// page. Graph can report the same item several times when it changes while
// the page is being assembled; only the final state matters.
func dedupeItems(items []Item, logger *slog.Logger) []Item {
	if len(items) == 0 {
		return items
	}

	last := make(map[string]int, len(items))
	for i := range items {
		last[items[i].ID] = i
	}

	if len(last) == len(items) {
		return items
	}

	kept := make([]Item, 0, len(last))
	for i := range items {
		if last[items[i].ID] == i {
			kept = append(kept, items[i])
		}
	}

	logger.Debug("deduplicated delta page",
		slog.Int("duplicates", len(items)-len(kept)),
	)

	return kept
}
