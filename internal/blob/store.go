// Package blob implements the content-addressed file store. Bytes live under
// {root}/{sha256[0:2]}/{sha256[2:4]}/{sha256}; the two-level fan-out keeps any
// single directory bounded. Writes stream to a temp file in the same
// filesystem and move into place with an atomic rename, so readers see either
// no file or a complete one. Reference counting lives in the catalog; the
// store only owns the files.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// sniffLen is how many leading bytes http.DetectContentType examines.
const sniffLen = 512

// tmpDirName holds in-flight writes under the blob root.
const tmpDirName = "tmp"

// ErrNotFound is returned when no blob file exists for a hash.
var ErrNotFound = errors.New("blob: not found")

// ErrHashMismatch is returned when streamed content does not match the hash
// the server advertised for it.
var ErrHashMismatch = errors.New("blob: hash mismatch")

// VerifyState is the outcome of checking one stored blob against the catalog.
type VerifyState string

const (
	VerifyOK      VerifyState = "ok"
	VerifyMissing VerifyState = "missing"
	VerifyCorrupt VerifyState = "corrupt"
)

// PutResult describes content written (or found already present) by Put.
type PutResult struct {
	SHA256 string
	Size   int64
	MIME   string
}

// Store is a content-addressed blob store rooted at a single directory.
// Methods are safe for concurrent use; distinct Puts never collide because
// each streams through its own temp file.
type Store struct {
	root   string
	logger *slog.Logger
}

// New opens (creating if needed) a blob store rooted at root.
func New(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Join(root, tmpDirName), 0o755); err != nil {
		return nil, fmt.Errorf("blob: creating store root %s: %w", root, err)
	}

	return &Store{root: root, logger: logger}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Put streams r to the store, computing SHA-256 on the way through, and
// installs the content at its hash-derived path. If the destination already
// exists with the expected size, the temp file is discarded: put is
// idempotent and deduplicates identical content. The MIME type is sniffed
// from the leading bytes.
func (s *Store) Put(r io.Reader) (PutResult, error) {
	tmpPath := filepath.Join(s.root, tmpDirName, uuid.NewString())

	f, err := os.Create(tmpPath)
	if err != nil {
		return PutResult{}, fmt.Errorf("blob: creating temp file: %w", err)
	}

	h := sha256.New()
	sniff := &sniffWriter{}

	size, err := io.Copy(io.MultiWriter(f, h, sniff), r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)

		return PutResult{}, fmt.Errorf("blob: writing content: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)

		return PutResult{}, fmt.Errorf("blob: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)

		return PutResult{}, fmt.Errorf("blob: closing temp file: %w", err)
	}

	result := PutResult{
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   size,
		MIME:   http.DetectContentType(sniff.buf),
	}

	dest := s.Path(result.SHA256)

	if info, statErr := os.Stat(dest); statErr == nil {
		if info.Size() == size {
			os.Remove(tmpPath)
			s.logger.Debug("blob already stored",
				slog.String("sha256", result.SHA256),
				slog.Int64("size", size),
			)

			return result, nil
		}

		// Same hash, different size: the stored file is damaged. Replace it.
		s.logger.Warn("replacing blob with unexpected size",
			slog.String("sha256", result.SHA256),
			slog.Int64("stored_size", info.Size()),
			slog.Int64("size", size),
		)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		os.Remove(tmpPath)

		return PutResult{}, fmt.Errorf("blob: creating blob directory: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)

		return PutResult{}, fmt.Errorf("blob: installing blob %s: %w", result.SHA256, err)
	}

	return result, nil
}

// Open returns a reader over a stored blob. The caller must close it.
func (s *Store) Open(sha string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(sha))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob: opening %s: %w", sha, ErrNotFound)
		}

		return nil, fmt.Errorf("blob: opening %s: %w", sha, err)
	}

	return f, nil
}

// Path returns the filesystem path a hash maps to. It does not check that
// the file exists.
func (s *Store) Path(sha string) string {
	return filepath.Join(s.root, sha[:2], sha[2:4], sha)
}

// Remove deletes a blob file and prunes now-empty fan-out directories.
// Removing an absent blob is not an error so crash-interrupted garbage
// collection can be replayed.
func (s *Store) Remove(sha string) error {
	path := s.Path(sha)

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("blob already removed", slog.String("sha256", sha))
			return nil
		}

		return fmt.Errorf("blob: removing %s: %w", sha, err)
	}

	s.pruneEmptyDirs(filepath.Dir(path))

	return nil
}

// pruneEmptyDirs removes empty fan-out directories, walking upward until the
// store root or a non-empty directory stops it.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && len(dir) > len(s.root) {
		if err := os.Remove(dir); err != nil {
			// Not empty, or concurrently recreated. Either way, stop.
			return
		}

		dir = filepath.Dir(dir)
	}
}

// Verify rehashes a stored blob and checks it against the expected hash and
// size. Used by the verify-storage maintenance path.
func (s *Store) Verify(sha string, expectedSize int64) (VerifyState, error) {
	f, err := os.Open(s.Path(sha))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return VerifyMissing, nil
		}

		return VerifyMissing, fmt.Errorf("blob: verifying %s: %w", sha, err)
	}
	defer f.Close()

	h := sha256.New()

	size, err := io.Copy(h, f)
	if err != nil {
		return VerifyCorrupt, fmt.Errorf("blob: reading %s: %w", sha, err)
	}

	if size != expectedSize || hex.EncodeToString(h.Sum(nil)) != sha {
		return VerifyCorrupt, nil
	}

	return VerifyOK, nil
}

// Walk visits every stored blob in unspecified order, calling fn with the
// hash and on-disk size. Returning an error from fn stops the walk. In-flight
// temp files and foreign files that do not look like blobs are skipped.
func (s *Store) Walk(fn func(sha string, size int64) error) error {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == tmpDirName && filepath.Dir(path) == s.root {
				return filepath.SkipDir
			}

			return nil
		}

		sha := d.Name()
		if !isBlobName(sha) || s.Path(sha) != path {
			s.logger.Warn("skipping foreign file in blob root", slog.String("path", path))
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		return fn(sha, info.Size())
	})
	if err != nil {
		return fmt.Errorf("blob: walking store: %w", err)
	}

	return nil
}

// CleanTmp removes leftover temp files from interrupted writes. Callers must
// hold the run latch: an active Put elsewhere would lose its temp file.
func (s *Store) CleanTmp() error {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDirName))
	if err != nil {
		return fmt.Errorf("blob: reading temp dir: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(s.root, tmpDirName, entry.Name())
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("blob: removing stale temp file %s: %w", entry.Name(), err)
		}

		s.logger.Debug("removed stale temp file", slog.String("name", entry.Name()))
	}

	return nil
}

// isBlobName reports whether name is a full lowercase hex SHA-256.
func isBlobName(name string) bool {
	if len(name) != sha256.Size*2 {
		return false
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

// sniffWriter captures the first sniffLen bytes of a stream for MIME
// detection without buffering the rest.
type sniffWriter struct {
	buf []byte
}

func (s *sniffWriter) Write(p []byte) (int, error) {
	if len(s.buf) < sniffLen {
		take := sniffLen - len(s.buf)
		if take > len(p) {
			take = len(p)
		}

		s.buf = append(s.buf, p[:take]...)
	}

	return len(p), nil
}
