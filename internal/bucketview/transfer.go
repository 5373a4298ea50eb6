package bucketview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cthulhu/internal/backend"
)

// DefaultConcurrency is the number of parallel downloads in Fetch.
const DefaultConcurrency = 4

const (
	partialSuffix = ".partial"
	dirPerms      = 0o700
	filePerms     = 0o600
)

// Downloader streams one bucket file. *backend.ResourceClient satisfies it.
type Downloader interface {
	DownloadFile(ctx context.Context, bucketID, fileName string, w io.Writer) (int64, error)
}

// Fetched reports one downloaded file.
type Fetched struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Fetch downloads names from bucketID into dir, at most concurrency at a
// time. Each file is written to a .partial sibling and renamed into place
// only when complete. The first failure cancels the remaining downloads.
// Results are in the order of names.
func Fetch(ctx context.Context, dl Downloader, bucketID string, names []string, dir string, concurrency int, logger *slog.Logger) ([]Fetched, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("bucketview: creating %s: %w", dir, err)
	}

	out := make([]Fetched, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, name := range names {
		g.Go(func() error {
			target := filepath.Join(dir, backend.NormalizeName(name))

			n, err := downloadToFile(gctx, dl, bucketID, name, target)
			if err != nil {
				return err
			}

			logger.Debug("fetched file", slog.String("name", name), slog.String("path", target), slog.Int64("size", n))
			out[i] = Fetched{Name: name, Path: target, Size: n}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// downloadToFile streams into target+".partial" and renames on success. A
// failed download removes the partial file.
func downloadToFile(ctx context.Context, dl Downloader, bucketID, name, target string) (n int64, err error) {
	partial := target + partialSuffix

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerms)
	if err != nil {
		return 0, fmt.Errorf("bucketview: creating %s: %w", partial, err)
	}

	defer func() {
		if err != nil {
			os.Remove(partial)
		}
	}()

	n, err = dl.DownloadFile(ctx, bucketID, name, f)
	if closeErr := f.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("bucketview: closing %s: %w", partial, closeErr))
	}

	if err != nil {
		return n, err
	}

	if err = os.Rename(partial, target); err != nil {
		return n, fmt.Errorf("bucketview: renaming %s: %w", partial, err)
	}

	return n, nil
}
