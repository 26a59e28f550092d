package wardsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// ExportVersion is the current version of the diagnostics format.
const ExportVersion = "1.0"

// ExportFormat is the top-level structure of a diagnostics export.
type ExportFormat struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Profile    string           `json:"profile,omitempty"`
	Stats      StoreStats       `json:"stats"`
	Pending    []ExportMutation `json:"pending"`
	Stuck      []ExportFailure  `json:"stuck"`
}

// ExportMutation is a queued mutation with its payload in tagged form.
type ExportMutation struct {
	Mutation
	Payload json.RawMessage `json:"payload"`
}

// ExportFailure is a quarantined mutation with its payload in tagged form.
type ExportFailure struct {
	Failure
	Payload json.RawMessage `json:"payload"`
}

// ExportDiagnostics streams the queue and quarantine as JSON to w. Entity
// rows are not included; only the sync bookkeeping a support engineer needs.
func (s *Store) ExportDiagnostics(ctx context.Context, profile string, w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	stats, err := s.stats(ctx)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	// Write opening structure manually for streaming
	header := fmt.Sprintf(`{"version":%s,"exported_at":%s,"profile":%s,"stats":%s,"pending":[`,
		jsonString(ExportVersion),
		jsonString(time.Now().UTC().Format(time.RFC3339)),
		jsonString(profile),
		statsJSON,
	)
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err = s.streamRows(ctx, w,
		`SELECT `+queueColumns+`, payload FROM sync_queue ORDER BY queue_id`,
		func(sc rawScanner) (any, error) {
			var raw string
			m, err := scanMutation(sc.with(&raw))
			if err != nil {
				return nil, err
			}
			return ExportMutation{Mutation: *m, Payload: json.RawMessage(raw)}, nil
		})
	if err != nil {
		return fmt.Errorf("export pending: %w", err)
	}

	if _, err := io.WriteString(w, `],"stuck":[`); err != nil {
		return fmt.Errorf("write separator: %w", err)
	}

	err = s.streamRows(ctx, w,
		`SELECT `+failureColumns+`, payload FROM sync_failures ORDER BY id`,
		func(sc rawScanner) (any, error) {
			var raw string
			f, err := scanFailure(sc.with(&raw))
			if err != nil {
				return nil, err
			}
			return ExportFailure{Failure: *f, Payload: json.RawMessage(raw)}, nil
		})
	if err != nil {
		return fmt.Errorf("export stuck: %w", err)
	}

	// Close JSON structure
	if _, err := io.WriteString(w, "]}"); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	return nil
}

// rawScanner lets a scan function append extra destinations after the
// columns it knows about.
type rawScanner struct {
	rows interface{ Scan(...any) error }
}

func (r rawScanner) with(extra ...any) scanner {
	return scanFunc(func(dest ...any) error {
		return r.rows.Scan(append(dest, extra...)...)
	})
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// streamRows encodes each row produced by conv as a JSON array element.
// Callers hold s.mu.
func (s *Store) streamRows(ctx context.Context, w io.Writer, query string, conv func(rawScanner) (any, error)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	first := true
	for rows.Next() {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		v, err := conv(rawScanner{rows: rows})
		if err != nil {
			return err
		}
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// jsonString returns a JSON-encoded string.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Backup copies the database to destPath. It checkpoints the WAL first so
// the copy is self-contained.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}

	srcFile, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("copy database: %w", err)
	}

	return destFile.Sync()
}
