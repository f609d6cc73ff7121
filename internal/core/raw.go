package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
)

// RawArchive stores raw snapshots outside the primary store and returns
// their location (for example a gs:// URI).
type RawArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

var (
	// ErrArchiveUnavailable means a snapshot lives in an archive this
	// service was not configured with.
	ErrArchiveUnavailable = errors.New("raw archive not configured")

	// ErrChecksumMismatch means stored raw content no longer matches the
	// checksum taken when it was captured.
	ErrChecksumMismatch = errors.New("raw content checksum mismatch")
)

// DefaultRawInlineLimit is the largest snapshot kept inline when an archive
// is configured.
const DefaultRawInlineLimit = 256 << 10

type rawRecorder struct {
	store       ledger.RawStore
	archive     RawArchive
	inlineLimit int
}

// save writes a write-once snapshot for job. Content larger than the inline
// limit goes to the archive, when one is configured.
func (r *rawRecorder) save(ctx context.Context, job *ledger.Job, kind ledger.RawKind, seq int, contentType string, content []byte) (*ledger.RawData, error) {
	sum := sha256.Sum256(content)
	raw := &ledger.RawData{
		JobID:        job.ID,
		ConnectionID: job.ConnectionID,
		TenantID:     job.TenantID,
		Kind:         kind,
		Sequence:     seq,
		ContentType:  contentType,
		Checksum:     hex.EncodeToString(sum[:]),
		Size:         len(content),
		Content:      content,
	}

	if r.archive != nil && len(content) > r.inlineLimit {
		key := path.Join(job.TenantID, job.ConnectionID, job.ID, fmt.Sprintf("%s-%04d", kind, seq))
		loc, err := r.archive.Put(ctx, key, content, contentType)
		if err != nil {
			return nil, fmt.Errorf("archive raw %s: %w", kind, err)
		}
		raw.Location = loc
		raw.Content = nil
	}

	if err := r.store.SaveRawData(ctx, raw); err != nil {
		return nil, fmt.Errorf("save raw %s: %w", kind, err)
	}
	return raw, nil
}

// load returns the content of raw, reading archived snapshots back from the
// archive, and verifies it against the recorded checksum.
func (r *rawRecorder) load(ctx context.Context, raw *ledger.RawData) ([]byte, error) {
	content := raw.Content
	if raw.Location != "" {
		if r.archive == nil {
			return nil, fmt.Errorf("%w: %s", ErrArchiveUnavailable, raw.Location)
		}
		b, err := r.archive.Get(ctx, raw.Location)
		if err != nil {
			return nil, fmt.Errorf("read archived raw %s: %w", raw.ID, err)
		}
		content = b
	}

	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != raw.Checksum {
		return nil, fmt.Errorf("raw %s: %w", raw.ID, ErrChecksumMismatch)
	}
	return content, nil
}
