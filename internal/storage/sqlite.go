package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

// SQLiteStore implements Store on a single SQLite file. Similarity search is
// a brute-force scan over every stored vector.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Option configures Open
type Option func(*SQLiteStore)

// WithLogger sets the store's logger
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// One connection: SQLite has a single writer, and :memory: databases
	// exist per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open opens or creates the store at target, applying pending migrations.
// With WipeOnInit the schema is rolled back and re-created, removing every
// record and restarting ids at 1.
func Open(ctx context.Context, target Target, opts ...Option) (*SQLiteStore, error) {
	if target.Path == "" {
		return nil, fmt.Errorf("%w: empty store path", ErrStorage)
	}

	if target.Path != MemoryPath && !strings.HasPrefix(target.Path, "file:") {
		if err := os.MkdirAll(filepath.Dir(target.Path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create store directory: %w", ErrStorage, err)
		}
	}

	db, err := openDatabase(target.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStorage, err)
	}

	s := &SQLiteStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	migrate := ApplyMigrations
	if target.WipeOnInit {
		migrate = resetSchema
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to apply migrations: %w", ErrStorage, err)
	}

	s.logger.Debug("store opened", "path", target.Path, "wiped", target.WipeOnInit, "driver", DriverName)
	return s, nil
}

// OpenStore adapts Open to the Opener signature
func OpenStore(opts ...Option) Opener {
	return func(ctx context.Context, target Target) (Store, error) {
		return Open(ctx, target, opts...)
	}
}

// handle returns the open database or ErrClosed
func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Close closes the database connection. Later calls return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrStorage, err)
	}
	return nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const metaDimension = "dimension"

// dimensionWithQuerier returns the pinned vector dimension, 0 if unset
func dimensionWithQuerier(ctx context.Context, q querier) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = ?", metaDimension).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// Dimension returns the vector dimension fixed by the first insert, or 0
func (s *SQLiteStore) Dimension(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	dim, err := dimensionWithQuerier(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("%w: read dimension: %w", ErrStorage, err)
	}
	return dim, nil
}

// Insert appends items in one transaction. Either all items are stored or
// none are. Ids are assigned in input order.
func (s *SQLiteStore) Insert(ctx context.Context, items []Item) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	for i := range items {
		if err := items[i].Chunk.Validate(); err != nil {
			return fmt.Errorf("%w: item %d: %w", ErrStorage, i, err)
		}
		if len(items[i].Vector) == 0 {
			return fmt.Errorf("%w: item %d has an empty vector", ErrDimensionMismatch, i)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := dimensionWithQuerier(ctx, tx)
	if err != nil {
		return fmt.Errorf("%w: read dimension: %w", ErrStorage, err)
	}
	if dim == 0 {
		dim = len(items[0].Vector)
		if _, err := tx.ExecContext(ctx, "INSERT INTO store_meta (key, value) VALUES (?, ?)", metaDimension, strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("%w: write dimension: %w", ErrStorage, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (file_path, start_line, end_line, chunk_type, name, parent_name, signature, content, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", ErrStorage, err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for i, item := range items {
		if len(item.Vector) != dim {
			return fmt.Errorf("%w: item %d has %d dimensions, store has %d", ErrDimensionMismatch, i, len(item.Vector), dim)
		}
		c := item.Chunk
		_, err := stmt.ExecContext(ctx,
			c.FilePath, c.StartLine, c.EndLine, string(c.ChunkType), c.Name,
			nullString(c.ParentName), nullString(c.Signature), c.Content,
			serializeVector(item.Vector), now)
		if err != nil {
			return fmt.Errorf("%w: insert item %d: %w", ErrStorage, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}

	s.logger.Debug("inserted records", "count", len(items), "dimension", dim)
	return nil
}

// Count returns the number of stored records
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStorage, err)
	}
	return n, nil
}

// SearchSimilar returns the limit records closest to query by cosine distance
func (s *SQLiteStore) SearchSimilar(ctx context.Context, query []float32, limit int) ([]SimilarityResult, error) {
	return s.SearchSimilarFiltered(ctx, query, limit, nil)
}

// SearchSimilarFiltered scans every record matching filters, keeps the
// best limit in a bounded heap, then loads the winners in rank order.
func (s *SQLiteStore) SearchSimilarFiltered(ctx context.Context, query []float32, limit int, filters *SearchFilters) ([]SimilarityResult, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}

	dim, err := dimensionWithQuerier(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: read dimension: %w", ErrStorage, err)
	}
	if dim == 0 {
		return []SimilarityResult{}, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", ErrDimensionMismatch, len(query), dim)
	}

	sqlQuery, args := applyFilters("SELECT id, vector FROM chunks WHERE 1=1", nil, filters)
	sqlQuery += " ORDER BY id"

	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: scan vectors: %w", ErrStorage, err)
	}

	best := newTopK(limit)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: scan row: %w", ErrStorage, err)
		}
		vec := deserializeVector(blob)
		if len(vec) != dim {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: record %d has %d dimensions", ErrDimensionMismatch, id, len(vec))
		}
		best.offer(candidate{id: id, distance: cosineDistance(query, vec)})
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: scan vectors: %w", ErrStorage, err)
	}

	ranked := best.sorted()
	if len(ranked) == 0 {
		return []SimilarityResult{}, nil
	}

	records, err := s.loadRecords(ctx, db, ranked)
	if err != nil {
		return nil, err
	}

	results := make([]SimilarityResult, len(ranked))
	for i, c := range ranked {
		results[i] = SimilarityResult{Record: *records[c.id], Distance: c.distance}
	}
	return results, nil
}

const recordColumns = `id, file_path, start_line, end_line, chunk_type, name, parent_name, signature, content, vector, created_at`

func (s *SQLiteStore) loadRecords(ctx context.Context, q querier, ranked []candidate) (map[int64]*Record, error) {
	placeholders := make([]string, len(ranked))
	args := make([]any, len(ranked))
	for i, c := range ranked {
		placeholders[i] = "?"
		args[i] = c.id
	}

	rows, err := q.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM chunks WHERE id IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: load records: %w", ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	records := make(map[int64]*Record, len(ranked))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: load records: %w", ErrStorage, err)
		}
		records[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load records: %w", ErrStorage, err)
	}
	if len(records) != len(ranked) {
		return nil, fmt.Errorf("%w: %d of %d records vanished during search", ErrStorage, len(ranked)-len(records), len(ranked))
	}
	return records, nil
}

// Get returns one record by id
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT "+recordColumns+" FROM chunks WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("%w: get record: %w", ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: get record: %w", ErrStorage, err)
		}
		return nil, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: get record: %w", ErrStorage, err)
	}
	return rec, nil
}

// Status reports counts per chunk type along with schema and driver details
func (s *SQLiteStore) Status(ctx context.Context) (*Status, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	status := &Status{
		ByType:    make(map[types.ChunkType]int),
		Driver:    DriverName,
		BuildMode: BuildMode,
	}

	rows, err := db.QueryContext(ctx, "SELECT chunk_type, COUNT(*) FROM chunks GROUP BY chunk_type")
	if err != nil {
		return nil, fmt.Errorf("%w: status: %w", ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ct string
		var n int
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, fmt.Errorf("%w: status: %w", ErrStorage, err)
		}
		status.ByType[types.ChunkType(ct)] = n
		status.Count += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: status: %w", ErrStorage, err)
	}

	if status.Dimension, err = dimensionWithQuerier(ctx, db); err != nil {
		return nil, fmt.Errorf("%w: status: %w", ErrStorage, err)
	}

	version, err := SchemaVersion(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: status: %w", ErrStorage, err)
	}
	status.SchemaVersion = version.String()

	return status, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var rec Record
	var chunkType string
	var parent, signature sql.NullString
	var blob []byte
	err := rows.Scan(
		&rec.ID, &rec.Chunk.FilePath, &rec.Chunk.StartLine, &rec.Chunk.EndLine,
		&chunkType, &rec.Chunk.Name, &parent, &signature, &rec.Chunk.Content,
		&blob, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Chunk.ChunkType = types.ChunkType(chunkType)
	if parent.Valid {
		rec.Chunk.ParentName = &parent.String
	}
	if signature.Valid {
		rec.Chunk.Signature = &signature.String
	}
	rec.Vector = deserializeVector(blob)
	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
