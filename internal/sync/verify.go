package sync

import (
	"context"
	"log/slog"

	"github.com/vsalomaa/spmirror/internal/blob"
	"github.com/vsalomaa/spmirror/internal/catalog"
)

// VerifyReport is the outcome of a storage verification pass.
type VerifyReport struct {
	// OK counts catalog blobs whose file rehashed clean.
	OK int
	// Missing lists hashes with a catalog row but no file.
	Missing []string
	// Corrupt lists hashes whose file exists but rehashes wrong.
	Corrupt []string
	// Orphans lists on-disk files with no catalog row.
	Orphans []string
}

// Clean reports whether the store and catalog agree completely.
func (r *VerifyReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Corrupt) == 0 && len(r.Orphans) == 0
}

// VerifyStorage rehashes every cataloged blob against its file and then
// walks the blob root for files the catalog does not know about. Read-only:
// repair is left to the operator, who may prefer re-syncing over deleting.
func (o *Orchestrator) VerifyStorage(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{}
	known := make(map[string]bool)

	err := o.cat.ForEachBlob(ctx, func(b catalog.Blob) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		known[b.SHA256] = true

		state, err := o.blobs.Verify(b.SHA256, b.Size)
		if err != nil {
			o.logger.Warn("verify read error",
				slog.String("sha256", b.SHA256),
				slog.String("error", err.Error()),
			)
		}

		switch state {
		case blob.VerifyOK:
			report.OK++
		case blob.VerifyMissing:
			report.Missing = append(report.Missing, b.SHA256)
		case blob.VerifyCorrupt:
			report.Corrupt = append(report.Corrupt, b.SHA256)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.blobs.Walk(func(sha string, _ int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !known[sha] {
			report.Orphans = append(report.Orphans, sha)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("storage verification complete",
		slog.Int("ok", report.OK),
		slog.Int("missing", len(report.Missing)),
		slog.Int("corrupt", len(report.Corrupt)),
		slog.Int("orphans", len(report.Orphans)),
	)

	return report, nil
}
