package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrNoContent is returned when an item has no downloadable content
// (folders, OneNote packages).
var ErrNoContent = errors.New("graph: item has no downloadable content")

// Content opens a streaming reader over an item's bytes. The delta-carried
// pre-authenticated URL is used when present; if it is missing or has
// expired (the CDN answers 401/403/404/410), the item is re-fetched once
// for a fresh URL. The caller must close the reader.
func (c *Client) Content(ctx context.Context, item Item) (io.ReadCloser, error) {
	if item.IsFolder || item.IsPackage {
		return nil, ErrNoContent
	}

	url := item.DownloadURL

	if url == "" {
		fresh, err := c.refreshDownloadURL(ctx, item)
		if err != nil {
			return nil, err
		}

		url = fresh
	}

	resp, err := c.doPreAuth(ctx, "content download", url)
	if err == nil {
		return resp.Body, nil
	}

	// Pre-authenticated URLs from delta pages expire within an hour; a
	// rejection on a URL we did not just mint gets one refresh attempt.
	if item.DownloadURL != "" && isStaleURLError(err) {
		c.logger.Debug("download URL rejected, refreshing item",
			slog.String("drive_id", item.DriveID),
			slog.String("item_id", item.ID),
		)

		fresh, refreshErr := c.refreshDownloadURL(ctx, item)
		if refreshErr != nil {
			return nil, refreshErr
		}

		resp, err = c.doPreAuth(ctx, "content download", fresh)
		if err != nil {
			return nil, err
		}

		return resp.Body, nil
	}

	return nil, err
}

// refreshDownloadURL re-fetches an item and returns its current
// pre-authenticated URL.
func (c *Client) refreshDownloadURL(ctx context.Context, item Item) (string, error) {
	fresh, err := c.GetItem(ctx, item.DriveID, item.ID)
	if err != nil {
		return "", fmt.Errorf("graph: refreshing download URL for item %s: %w", item.ID, err)
	}

	if fresh.DownloadURL == "" {
		return "", ErrNoContent
	}

	return fresh.DownloadURL, nil
}

// isStaleURLError reports whether an error from the CDN indicates an
// expired or revoked pre-authenticated URL.
func isStaleURLError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrGone)
}
