package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Archiver stores a chunk of records before they are purged
type Archiver interface {
	Archive(ctx context.Context, name string, recs []*Record) (string, error)
}

// EnforceRetentionPolicy deletes records whose retention date has passed
// and returns how many were purged. In immutable-storage mode records
// flagged immutable are kept. When an archiver is configured the expired
// records are archived first and an archive failure aborts the purge.
func (s *Service) EnforceRetentionPolicy(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	skipImmutable := s.deliverer.Policy().ImmutableStorage

	if s.archiver != nil {
		if err := s.archiveExpired(ctx, now, skipImmutable); err != nil {
			s.logger.Error("Retention archive failed, purge aborted", zap.Error(err))
			return 0, err
		}
	}

	purged, err := s.store.DeleteExpired(ctx, now, skipImmutable)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit records: %w", err)
	}

	s.metrics.RecordPurged(purged)
	if purged > 0 {
		for _, category := range reportCategories {
			s.deliverer.invalidate(ctx, category)
		}
	}

	s.logger.Info("Audit retention enforced",
		zap.Int64("purged", purged),
		zap.Bool("immutable_kept", skipImmutable),
	)
	return purged, nil
}

func (s *Service) archiveExpired(ctx context.Context, now time.Time, skipImmutable bool) error {
	q := Query{
		RetentionBefore:  &now,
		ExcludeImmutable: skipImmutable,
	}

	prefix := "retention/" + now.Format("20060102T150405Z")
	part := 0
	chunk := make([]*Record, 0, reportPageSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		part++
		name := fmt.Sprintf("%s/part-%04d.ndjson", prefix, part)
		location, err := s.archiver.Archive(ctx, name, chunk)
		if err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
		s.logger.Info("Archived expired audit records",
			zap.String("location", location),
			zap.Int("records", len(chunk)),
		)
		chunk = chunk[:0]
		return nil
	}

	err := eachRecord(ctx, s.store, q, reportPageSize, func(rec *Record) error {
		chunk = append(chunk, rec)
		if len(chunk) >= reportPageSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// StartRetention enforces the retention policy every interval until ctx is done
func (s *Service) StartRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.EnforceRetentionPolicy(ctx); err != nil {
					s.logger.Error("Scheduled retention enforcement failed", zap.Error(err))
				}
			}
		}
	}()
}
