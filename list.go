package main

import (
	"encoding/json"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vsalomaa/spmirror/internal/catalog"
)

func newListCmd() *cobra.Command {
	var (
		flagSearch  string
		flagLimit   int
		flagDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.orch.List(cmd.Context(), catalog.ListOptions{
				Search:         flagSearch,
				Limit:          flagLimit,
				IncludeDeleted: flagDeleted,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(listResultsOf(docs))
			}

			printDocuments(docs)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagSearch, "search", "", "full-text search over name and path")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "cap the number of rows (0 = all)")
	cmd.Flags().BoolVar(&flagDeleted, "deleted", false, "include soft-deleted documents")

	return cmd
}

type listResult struct {
	ItemID    string `json:"item_id"`
	DriveID   string `json:"drive_id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256,omitempty"`
	IsDeleted bool   `json:"is_deleted,omitempty"`
}

func listResultsOf(docs []catalog.Document) []listResult {
	out := make([]listResult, 0, len(docs))

	for _, doc := range docs {
		out = append(out, listResult{
			ItemID:    doc.ItemID,
			DriveID:   doc.DriveID,
			Name:      doc.Name,
			Path:      doc.Path,
			Size:      doc.Size,
			SHA256:    doc.BlobSHA256,
			IsDeleted: doc.IsDeleted,
		})
	}

	return out
}

func printDocuments(docs []catalog.Document) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		// Pipes get one path per line for composability.
		for _, doc := range docs {
			os.Stdout.WriteString(doc.Path + "\n")
		}

		return
	}

	rows := make([][]string, 0, len(docs))

	for _, doc := range docs {
		state := ""
		if doc.IsDeleted {
			state = "deleted"
		}

		rows = append(rows, []string{
			doc.Path,
			formatSize(doc.Size),
			formatTime(doc.RemoteModifiedAt),
			state,
		})
	}

	printTable(os.Stdout, []string{"PATH", "SIZE", "MODIFIED", ""}, rows)
}
