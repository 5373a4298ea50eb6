package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

func downloadPath(bucketID, fileName string) string {
	return bucketPath(bucketID) + "/d/" + url.PathEscape(NormalizeName(fileName))
}

// DownloadURL returns the absolute download URL of a file. It carries no
// credentials, so protected buckets need DownloadFile instead.
func (c *ResourceClient) DownloadURL(bucketID, fileName string) string {
	return c.t.URL(downloadPath(bucketID, fileName))
}

// DownloadFile streams one file of a bucket into w and returns the number of
// bytes written. The bucket token is attached when one is stored.
func (c *ResourceClient) DownloadFile(ctx context.Context, bucketID, fileName string, w io.Writer) (int64, error) {
	resp, err := c.t.send(ctx, call{
		method:   http.MethodGet,
		path:     downloadPath(bucketID, fileName),
		prepare:  c.bucketHeader(bucketID),
		transfer: true,
		sentinel: ErrRequestFailed,
		fallback: msgDownload,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msgDownload,
			Err:        ErrRequestFailed,
			Cause:      fmt.Errorf("reading %s: %w", fileName, err),
		}
	}

	c.logger.Info("downloaded file",
		slog.String("bucket_id", bucketID),
		slog.String("name", fileName),
		slog.Int64("bytes", n),
	)

	return n, nil
}
