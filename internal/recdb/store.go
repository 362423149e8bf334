package recdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/javi11/mp4vfsd/internal/recording"
)

// DBQuerier is satisfied by both *sql.DB and *sql.Tx, letting Store run
// equally well against a bare connection or inside a transaction.
type DBQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the recording catalog's query layer.
type Store struct {
	db DBQuerier
}

// NewStore wraps db (typically the *sql.DB returned by Open) as a Store.
func NewStore(db DBQuerier) *Store {
	return &Store{db: db}
}

// WithTransaction runs fn against a Store backed by a transaction,
// committing on success and rolling back on error — fn's returned error
// alone decides. A panic in fn is not recovered here.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	sqlDB, ok := s.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("recdb: store not backed by *sql.DB")
	}
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recdb: beginning transaction: %w", err)
	}
	if err := fn(&Store{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("recdb: rolling back after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recdb: committing transaction: %w", err)
	}
	return nil
}

// WindowedRecording is one recording intersected with a requested
// absolute time window, already translated into the window's own
// relative coordinates.
type WindowedRecording struct {
	Recording    *recording.Recording
	RelStart90k  int64
	RelEnd90k    int64
}

// ListForRange returns every recording of streamID overlapping
// [start90k, end90k), each with its rel_start_90k/rel_end_90k clipped
// to the requested window, ordered by start_time_90k.
func (s *Store) ListForRange(ctx context.Context, streamID string, start90k, end90k int64) ([]WindowedRecording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_file_uuid, sample_file_sha1, sample_file_bytes,
		       video_samples, video_sync_samples, start_time_90k, end_time_90k,
		       video_sample_entry_id, video_index
		FROM recordings
		WHERE stream_id = ? AND start_time_90k < ? AND end_time_90k > ?
		ORDER BY start_time_90k ASC
	`, streamID, end90k, start90k)
	if err != nil {
		return nil, fmt.Errorf("recdb: querying recordings for range: %w", err)
	}
	defer rows.Close()

	var out []WindowedRecording
	for rows.Next() {
		var rec recording.Recording
		var sha1 []byte
		if err := rows.Scan(&rec.SampleFileUUID, &sha1, &rec.SampleFileBytes,
			&rec.VideoSamples, &rec.VideoSyncSamples, &rec.StartTime90k, &rec.EndTime90k,
			&rec.VideoSampleEntryID, &rec.VideoIndex); err != nil {
			return nil, fmt.Errorf("recdb: scanning recording row: %w", err)
		}
		if len(sha1) != len(rec.SampleFileSHA1) {
			return nil, fmt.Errorf("recdb: sample_file_sha1 has %d bytes, want %d", len(sha1), len(rec.SampleFileSHA1))
		}
		copy(rec.SampleFileSHA1[:], sha1)

		relStart := max64(0, start90k-rec.StartTime90k)
		relEnd := min64(rec.Duration90k(), end90k-rec.StartTime90k)
		out = append(out, WindowedRecording{Recording: &rec, RelStart90k: relStart, RelEnd90k: relEnd})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recdb: iterating recording rows: %w", err)
	}
	return out, nil
}

// Insert stores rec under streamID, assigning it a fresh sample file
// UUID if one isn't already set.
func (s *Store) Insert(ctx context.Context, streamID string, rec *recording.Recording) error {
	if rec.SampleFileUUID == "" {
		rec.SampleFileUUID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (
			stream_id, sample_file_uuid, sample_file_sha1, sample_file_bytes,
			video_samples, video_sync_samples, start_time_90k, end_time_90k,
			video_sample_entry_id, video_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, streamID, rec.SampleFileUUID, rec.SampleFileSHA1[:], rec.SampleFileBytes,
		rec.VideoSamples, rec.VideoSyncSamples, rec.StartTime90k, rec.EndTime90k,
		rec.VideoSampleEntryID, rec.VideoIndex)
	if err != nil {
		return fmt.Errorf("recdb: inserting recording: %w", err)
	}
	return nil
}

// InsertVideoSampleEntry stores entry, returning its assigned ID.
func (s *Store) InsertVideoSampleEntry(ctx context.Context, entry *recording.VideoSampleEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO video_sample_entries (sha1, width, height, data) VALUES (?, ?, ?, ?)
	`, entry.SHA1[:], entry.Width, entry.Height, entry.Data)
	if err != nil {
		return 0, fmt.Errorf("recdb: inserting video sample entry: %w", err)
	}
	return res.LastInsertId()
}

// VideoSampleEntry fetches the sample entry with the given id.
func (s *Store) VideoSampleEntry(ctx context.Context, id int64) (*recording.VideoSampleEntry, error) {
	var entry recording.VideoSampleEntry
	var sha1 []byte
	row := s.db.QueryRowContext(ctx, `SELECT id, sha1, width, height, data FROM video_sample_entries WHERE id = ?`, id)
	if err := row.Scan(&entry.ID, &sha1, &entry.Width, &entry.Height, &entry.Data); err != nil {
		return nil, fmt.Errorf("recdb: fetching video sample entry %d: %w", id, err)
	}
	if len(sha1) != len(entry.SHA1) {
		return nil, fmt.Errorf("recdb: video sample entry sha1 has %d bytes, want %d", len(sha1), len(entry.SHA1))
	}
	copy(entry.SHA1[:], sha1)
	return &entry, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
