package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// siteResponse mirrors the Graph API site JSON response.
type siteResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	WebURL      string `json:"webUrl"`
}

func (s *siteResponse) toSite() Site {
	name := s.DisplayName
	if name == "" {
		name = s.Name
	}

	return Site{
		ID:     s.ID,
		Name:   name,
		WebURL: s.WebURL,
	}
}

// Site resolves a SharePoint site by hostname and server-relative path,
// e.g. ("contoso.sharepoint.com", "/sites/engineering").
func (c *Client) Site(ctx context.Context, hostname, sitePath string) (*Site, error) {
	if !strings.HasPrefix(sitePath, "/") {
		sitePath = "/" + sitePath
	}

	c.logger.Debug("resolving site",
		slog.String("hostname", hostname),
		slog.String("site_path", sitePath),
	)

	var sr siteResponse
	path := fmt.Sprintf("/sites/%s:%s", hostname, encodePathSegments(sitePath))

	if err := c.getJSON(ctx, path, &sr); err != nil {
		return nil, fmt.Errorf("graph: resolving site %s%s: %w", hostname, sitePath, err)
	}

	site := sr.toSite()

	c.logger.Info("resolved site",
		slog.String("site_id", site.ID),
		slog.String("name", site.Name),
	)

	return &site, nil
}

// encodePathSegments URL-encodes each segment of a slash-separated path so
// characters like #, %, and spaces survive interpolation into request URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}
