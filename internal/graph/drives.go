package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// driveResponse mirrors the Graph API drive JSON response.
// Unexported: callers use Drive via toDrive() normalization.
type driveResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	WebURL    string `json:"webUrl"`
}

func (d *driveResponse) toDrive() Drive {
	return Drive{
		ID:        d.ID,
		Name:      d.Name,
		DriveType: d.DriveType,
		WebURL:    d.WebURL,
	}
}

// drivesListResponse wraps the value array from GET /sites/{id}/drives.
type drivesListResponse struct {
	Value    []driveResponse `json:"value"`
	NextLink string          `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// Drives lists the document libraries of a site, following pagination.
func (c *Client) Drives(ctx context.Context, siteID string) ([]Drive, error) {
	path := fmt.Sprintf("/sites/%s/drives", siteID)

	var drives []Drive

	for path != "" {
		var dlr drivesListResponse
		if err := c.getJSON(ctx, path, &dlr); err != nil {
			return nil, fmt.Errorf("graph: listing drives for site %s: %w", siteID, err)
		}

		for i := range dlr.Value {
			drives = append(drives, dlr.Value[i].toDrive())
		}

		path = ""
		if dlr.NextLink != "" {
			path = c.stripBaseURL(dlr.NextLink)
		}
	}

	c.logger.Info("listed site drives",
		slog.String("site_id", siteID),
		slog.Int("count", len(drives)),
	)

	return drives, nil
}
