package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
	"pdf-rag/internal/vectorstore"
)

// Document is one row of a collection table.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID             string          `bun:"id,pk"`
	Collection     string          `bun:"collection,notnull"`
	EmbeddingModel string          `bun:"embedding_model,notnull"`
	Content        string          `bun:"content,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,notnull,type:vector"`
	SourceFilename string          `bun:"source_filename,notnull"`
	ChunkID        int             `bun:"chunk_id,notnull"`
	StartOffset    int             `bun:"start_offset,notnull"`
	EndOffset      int             `bun:"end_offset,notnull"`
	PageNumber     int             `bun:"page_number,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "pq" {
		return sql.Open("postgres", cfg.DSN)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// InitDB creates the pgvector extension and the documents table.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("documents_collection_source_idx").
		Column("collection", "source_filename").
		IfNotExists().
		Exec(ctx)
	return err
}

// Store is a vectorstore.Store on a pgvector table, one collection per
// value of the collection column.
type Store struct {
	mu         sync.RWMutex
	db         *bun.DB
	collection string
	modelID    string
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore prepares the table and checks that existing rows of the
// collection were embedded by modelID.
func NewStore(ctx context.Context, db *bun.DB, collection, modelID string) (*Store, error) {
	if err := InitDB(ctx, db); err != nil {
		return nil, ragerr.Retrieval("db.NewStore", fmt.Errorf("failed to initialize database: %w", err))
	}
	var bound []string
	err := db.NewSelect().
		Model((*Document)(nil)).
		ColumnExpr("DISTINCT embedding_model").
		Where("collection = ?", collection).
		Scan(ctx, &bound)
	if err != nil {
		return nil, ragerr.Retrieval("db.NewStore", err)
	}
	for _, m := range bound {
		if m != modelID {
			return nil, ragerr.Configf("db.NewStore", "collection %q is bound to embedding model %q, not %q", collection, m, modelID)
		}
	}
	return &Store{db: db, collection: collection, modelID: modelID}, nil
}

func (s *Store) toRows(records []models.VectorRecord) []Document {
	rows := make([]Document, len(records))
	for i, r := range records {
		rows[i] = Document{
			ID:             s.collection + "/" + r.ID,
			Collection:     s.collection,
			EmbeddingModel: s.modelID,
			Content:        r.Content,
			Embedding:      pgvector.NewVector(r.Embedding),
			SourceFilename: r.DocumentID,
			ChunkID:        r.ChunkIndex,
			StartOffset:    r.Start,
			EndOffset:      r.End,
			PageNumber:     r.PageNumber,
		}
	}
	return rows
}

func (s *Store) dimension(ctx context.Context, db bun.IDB) (int, error) {
	var dims []int
	err := db.NewSelect().
		Model((*Document)(nil)).
		ColumnExpr("vector_dims(embedding)").
		Where("collection = ?", s.collection).
		Limit(1).
		Scan(ctx, &dims)
	if err != nil || len(dims) == 0 {
		return 0, err
	}
	return dims[0], nil
}

func (s *Store) insert(ctx context.Context, tx bun.IDB, records []models.VectorRecord) error {
	rows := s.toRows(records)
	_, err := tx.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Set("source_filename = EXCLUDED.source_filename").
		Set("chunk_id = EXCLUDED.chunk_id").
		Set("start_offset = EXCLUDED.start_offset").
		Set("end_offset = EXCLUDED.end_offset").
		Set("page_number = EXCLUDED.page_number").
		Exec(ctx)
	return err
}

// Upsert inserts records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []models.VectorRecord) error {
	return s.write(ctx, "db.Upsert", "", records, false)
}

// Replace deletes documentID's rows and inserts records in one transaction.
func (s *Store) Replace(ctx context.Context, documentID string, records []models.VectorRecord) error {
	return s.write(ctx, "db.Replace", documentID, records, true)
}

func (s *Store) write(ctx context.Context, op, documentID string, records []models.VectorRecord, replace bool) error {
	if len(records) == 0 && !replace {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		dim, err := s.dimension(ctx, tx)
		if err != nil {
			return ragerr.Retrieval(op, err)
		}
		if _, err := vectorstore.CheckBatch(op, records, dim); err != nil {
			return err
		}
		if replace {
			for _, r := range records {
				if r.DocumentID != documentID {
					return ragerr.Configf(op, "record %s belongs to %q, not %q", r.ID, r.DocumentID, documentID)
				}
			}
			_, err := tx.NewDelete().
				Model((*Document)(nil)).
				Where("collection = ?", s.collection).
				Where("source_filename = ?", documentID).
				Exec(ctx)
			if err != nil {
				return ragerr.Retrieval(op, err)
			}
		}
		if len(records) == 0 {
			return nil
		}
		if err := s.insert(ctx, tx, records); err != nil {
			return ragerr.Retrieval(op, err)
		}
		return nil
	})
}

// Query orders rows by cosine distance in SQL, ties by chunk index and
// document id, and scores the k best with Cosine.
func (s *Store) Query(ctx context.Context, vector []float32, k int, opts ...vectorstore.QueryOption) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, ragerr.Configf("db.Query", "k must be positive, got %d", k)
	}
	o := vectorstore.ApplyQueryOptions(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	dim, err := s.dimension(ctx, s.db)
	if err != nil {
		return nil, ragerr.Retrieval("db.Query", err)
	}
	if err := vectorstore.CheckVector("db.Query", vector, dim); err != nil {
		return nil, err
	}

	qv := pgvector.NewVector(vector)
	var rows []Document
	q := s.db.NewSelect().
		Model(&rows).
		Column("id", "content", "embedding", "source_filename", "chunk_id", "start_offset", "end_offset", "page_number").
		Where("collection = ?", s.collection)
	if o.DocumentID != "" {
		q = q.Where("source_filename = ?", o.DocumentID)
	}
	err = q.OrderExpr("embedding <=> ?", qv).
		OrderExpr("chunk_id ASC").
		OrderExpr("source_filename ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, ragerr.Retrieval("db.Query", fmt.Errorf("failed to search documents: %w", err))
	}

	out := make(models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		emb := row.Embedding.Slice()
		score, err := vectorstore.Cosine(vector, emb)
		if err != nil {
			return nil, ragerr.Retrieval("db.Query", err)
		}
		out = append(out, models.ScoredRecord{
			Record: models.VectorRecord{
				ID:         models.RecordID(row.SourceFilename, row.ChunkID),
				Embedding:  emb,
				Content:    row.Content,
				DocumentID: row.SourceFilename,
				ChunkIndex: row.ChunkID,
				Start:      row.StartOffset,
				End:        row.EndOffset,
				PageNumber: row.PageNumber,
			},
			Score: score,
		})
	}
	log.Debug().Int("results", len(out)).Int("k", k).Msg("pgvector query")
	return vectorstore.Rank(out, k), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.db.NewSelect().Model((*Document)(nil)).Where("collection = ?", s.collection).Count(ctx)
	if err != nil {
		return 0, ragerr.Retrieval("db.Count", err)
	}
	return n, nil
}

// Reset deletes every row of the collection.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.NewDelete().Model((*Document)(nil)).Where("collection = ?", s.collection).Exec(ctx)
	if err != nil {
		return ragerr.Retrieval("db.Reset", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
