package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tariffops/htsflow/internal/blob"
	"github.com/tariffops/htsflow/internal/domain"
)

// ErrPayloadTooLarge is returned when the remote payload exceeds the size
// ceiling. It is a structured rejection, not a retryable network failure.
var ErrPayloadTooLarge = errors.New("source payload exceeds size limit")

// runDownload fetches the source file into blob storage. The blob key is
// deterministic per source version, so a re-run adopts the stored object and
// its digest without touching the network.
func (o *Orchestrator) runDownload(ctx context.Context, job *domain.ImportJob, cp domain.Checkpoint) (domain.Checkpoint, error) {
	key := blob.RawKey(o.namespace, job.SourceVersion)

	exists, err := o.blobs.Exists(key)
	if err != nil {
		return cp, fmt.Errorf("failed to check blob existence: %w", err)
	}

	var info blob.ObjectInfo
	if exists {
		info, err = o.blobs.Stat(key)
		if err != nil {
			return cp, fmt.Errorf("failed to read stored blob metadata: %w", err)
		}
		o.appendLog(ctx, job.ID, fmt.Sprintf("source already downloaded (%d bytes, sha256 %s), skipping fetch", info.Size, info.SHA256))
	} else {
		info, err = o.fetch(ctx, job.SourceURL, key)
		if err != nil {
			return cp, err
		}
		o.appendLog(ctx, job.ID, fmt.Sprintf("downloaded %d bytes (sha256 %s)", info.Size, info.SHA256))
	}

	next := cp.AdvanceTo(domain.StageDownloaded)
	next.BlobKey = key
	next.BlobStoreID = o.blobs.ID()
	next.FileHash = info.SHA256
	next.DownloadedBytes = info.Size
	if err := o.saveCheckpoint(ctx, job, next); err != nil {
		return cp, err
	}

	return next, nil
}

// fetch streams the remote payload directly into the blob store. The body is
// never buffered in memory; the store hashes it incrementally while writing.
func (o *Orchestrator) fetch(ctx context.Context, sourceURL, key string) (blob.ObjectInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, o.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("failed to download source file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return blob.ObjectInfo{}, fmt.Errorf("unexpected response %d downloading source file", resp.StatusCode)
	}
	if resp.ContentLength > 0 && resp.ContentLength > o.maxDownloadBytes {
		return blob.ObjectInfo{}, fmt.Errorf("%w: %d bytes advertised, limit %d", ErrPayloadTooLarge, resp.ContentLength, o.maxDownloadBytes)
	}

	info, err := o.blobs.Put(key, &limitedReader{r: resp.Body, remaining: o.maxDownloadBytes})
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return blob.ObjectInfo{}, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, o.maxDownloadBytes)
		}
		return blob.ObjectInfo{}, fmt.Errorf("failed to store source file: %w", err)
	}

	return info, nil
}

// limitedReader fails hard once the ceiling is crossed instead of silently
// truncating like io.LimitReader would.
type limitedReader struct {
	r         io.Reader
	remaining int64
	done      error
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.done != nil {
		return 0, l.done
	}
	if l.remaining <= 0 {
		return 0, ErrPayloadTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining <= 0 && err == nil {
		// Look one byte ahead to distinguish exactly-at-limit from
		// over-limit. A payload that ends right at the ceiling is fine; the
		// terminal condition is remembered so the next call reports EOF
		// rather than a limit violation.
		var ahead [1]byte
		an, aerr := l.r.Read(ahead[:])
		if an > 0 {
			return n, ErrPayloadTooLarge
		}
		if aerr != nil {
			l.done = aerr
		}
	}
	return n, err
}
