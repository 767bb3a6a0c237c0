package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
	"pdf-rag/internal/vectorstore"
)

// Options configures the chromem-go database behind a Store.
type Options struct {
	Path          string
	Collection    string
	InMemory      bool
	Compress      bool
	EncryptionKey string
}

// Binding records which embedding model produced a collection's vectors.
type Binding struct {
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embedding_model"`
	Dimension      int    `yaml:"dimension"`
}

// Store is a vectorstore.Store on a chromem-go collection, persisted under
// Options.Path unless InMemory is set.
type Store struct {
	mu            sync.RWMutex
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	dbPath        string
	compress      bool
	encryptionKey string
	binding       Binding
	bindingPath   string
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore opens (or creates) the collection and binds it to modelID. A
// collection already bound to another model is rejected.
func NewStore(opts Options, modelID string) (*Store, error) {
	var db *chromem.DB
	var err error
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, ragerr.Retrieval("chromemdb.NewStore", fmt.Errorf("failed to create database: %w", err))
		}
	}

	s := &Store{
		db:            db,
		name:          opts.Collection,
		dbPath:        opts.Path,
		compress:      opts.Compress,
		encryptionKey: opts.EncryptionKey,
		binding:       Binding{Collection: opts.Collection, EmbeddingModel: modelID},
	}
	if !opts.InMemory {
		s.bindingPath = BindingPath(opts.Path, opts.Collection)
		if err := s.loadBinding(modelID); err != nil {
			return nil, err
		}
	}

	if _, err := s.getOrCreateCollection(); err != nil {
		return nil, err
	}
	log.Debug().
		Str("collection", s.name).
		Str("embedding_model", modelID).
		Int("records", s.collection.Count()).
		Bool("in_memory", opts.InMemory).
		Msg("Opened vector collection")
	return s, nil
}

// BindingPath is where the binding of collection in the database at dbPath
// is kept: beside the database directory, keyed by its name, so chromem-go
// never scans it and sibling databases do not share it.
func BindingPath(dbPath, collection string) string {
	clean := filepath.Clean(dbPath)
	return filepath.Join(filepath.Dir(clean), "bindings", filepath.Base(clean), collection+".yaml")
}

// exportBindingPath is the binding written next to an exported file.
func exportBindingPath(filePath string) string {
	return filePath + ".binding.yaml"
}

func (s *Store) getOrCreateCollection() (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(s.name, map[string]string{"embedding_model": s.binding.EmbeddingModel}, nil)
	if err != nil {
		return nil, ragerr.Retrieval("chromemdb.GetOrCreateCollection", fmt.Errorf("failed to create/get collection: %w", err))
	}
	s.collection = c
	return c, nil
}

func readBinding(path string) (Binding, error) {
	var b Binding
	data, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("corrupt binding %s: %w", path, err)
	}
	return b, nil
}

func writeBinding(path string, b Binding) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(b)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) loadBinding(modelID string) error {
	stored, err := readBinding(s.bindingPath)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveBinding()
	}
	if err != nil {
		return ragerr.Retrieval("chromemdb.loadBinding", err)
	}
	if stored.EmbeddingModel != modelID {
		return ragerr.Configf("chromemdb.NewStore", "collection %q is bound to embedding model %q, not %q",
			s.name, stored.EmbeddingModel, modelID)
	}
	s.binding = stored
	return nil
}

func (s *Store) saveBinding() error {
	if s.bindingPath == "" {
		return nil
	}
	if err := writeBinding(s.bindingPath, s.binding); err != nil {
		return ragerr.Retrieval("chromemdb.saveBinding", err)
	}
	return nil
}

// Binding returns the collection's model binding.
func (s *Store) Binding() Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binding
}

func (s *Store) bindDimension(dim int) error {
	if s.binding.Dimension == dim || dim == 0 {
		return nil
	}
	s.binding.Dimension = dim
	return s.saveBinding()
}

func toDocuments(records []models.VectorRecord) []chromem.Document {
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:      r.ID,
			Content: r.Content,
			Metadata: map[string]string{
				models.MetaDocumentID: r.DocumentID,
				models.MetaChunkIndex: strconv.Itoa(r.ChunkIndex),
				models.MetaStart:      strconv.Itoa(r.Start),
				models.MetaEnd:        strconv.Itoa(r.End),
				models.MetaPage:       strconv.Itoa(r.PageNumber),
			},
			Embedding: vectorstore.Normalize(r.Embedding),
		}
	}
	return docs
}

func fromResult(r chromem.Result) (models.VectorRecord, error) {
	rec := models.VectorRecord{
		ID:         r.ID,
		Embedding:  r.Embedding,
		Content:    r.Content,
		DocumentID: r.Metadata[models.MetaDocumentID],
	}
	ints := []struct {
		key string
		dst *int
	}{
		{models.MetaChunkIndex, &rec.ChunkIndex},
		{models.MetaStart, &rec.Start},
		{models.MetaEnd, &rec.End},
		{models.MetaPage, &rec.PageNumber},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(r.Metadata[f.key])
		if err != nil {
			return rec, fmt.Errorf("record %s has corrupt %s metadata: %w", r.ID, f.key, err)
		}
		*f.dst = v
	}
	return rec, nil
}

// Upsert adds records; a record with an existing id replaces it.
func (s *Store) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vectorstore.CheckBatch("chromemdb.Upsert", records, s.binding.Dimension)
	if err != nil {
		return err
	}
	if err := s.collection.AddDocuments(ctx, toDocuments(records), runtime.NumCPU()); err != nil {
		return ragerr.Retrieval("chromemdb.Upsert", fmt.Errorf("failed to add documents: %w", err))
	}
	return s.bindDimension(dim)
}

// Replace deletes every record of documentID, then adds records.
func (s *Store) Replace(ctx context.Context, documentID string, records []models.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vectorstore.CheckBatch("chromemdb.Replace", records, s.binding.Dimension)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.DocumentID != documentID {
			return ragerr.Configf("chromemdb.Replace", "record %s belongs to %q, not %q", r.ID, r.DocumentID, documentID)
		}
	}
	if s.collection.Count() > 0 {
		where := map[string]string{models.MetaDocumentID: documentID}
		if err := s.collection.Delete(ctx, where, nil); err != nil {
			return ragerr.Retrieval("chromemdb.Replace", fmt.Errorf("failed to delete %s: %w", documentID, err))
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.collection.AddDocuments(ctx, toDocuments(records), runtime.NumCPU()); err != nil {
		return ragerr.Retrieval("chromemdb.Replace", fmt.Errorf("failed to add documents: %w", err))
	}
	return s.bindDimension(dim)
}

// Query ranks every candidate and keeps the top k; chromem-go ranks by
// similarity alone, so ties are ordered here.
func (s *Store) Query(ctx context.Context, vector []float32, k int, opts ...vectorstore.QueryOption) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, ragerr.Configf("chromemdb.Query", "k must be positive, got %d", k)
	}
	o := vectorstore.ApplyQueryOptions(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := vectorstore.CheckVector("chromemdb.Query", vector, s.binding.Dimension); err != nil {
		return nil, err
	}
	n := s.collection.Count()
	if n == 0 {
		return models.RetrievalResult{}, nil
	}

	queryOpts := chromem.QueryOptions{
		QueryEmbedding: vectorstore.Normalize(vector),
		NResults:       n,
	}
	if o.DocumentID != "" {
		queryOpts.Where = map[string]string{models.MetaDocumentID: o.DocumentID}
	}
	results, err := s.collection.QueryWithOptions(ctx, queryOpts)
	if err != nil {
		return nil, ragerr.Retrieval("chromemdb.Query", fmt.Errorf("failed to query by similarity: %w", err))
	}

	out := make(models.RetrievalResult, 0, len(results))
	for _, r := range results {
		rec, err := fromResult(r)
		if err != nil {
			return nil, ragerr.Retrieval("chromemdb.Query", err)
		}
		out = append(out, models.ScoredRecord{Record: rec, Score: float64(r.Similarity)})
	}
	return vectorstore.Rank(out, k), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Reset drops the collection and recreates it empty.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return ragerr.Retrieval("chromemdb.Reset", fmt.Errorf("failed to drop collection: %w", err))
	}
	if _, err := s.getOrCreateCollection(); err != nil {
		return err
	}
	s.binding.Dimension = 0
	log.Info().Str("collection", s.name).Msg("Collection reset")
	return s.saveBinding()
}

// Close is a no-op; chromem-go writes through on every change.
func (s *Store) Close() error {
	return nil
}

// Export writes the collection to a gob file, encrypted when the store has
// an encryption key.
func (s *Store) Export(ctx context.Context, filePath string) error {
	if filePath == "" {
		return ragerr.Configf("chromemdb.Export", "file path is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	log.Debug().
		Str("collection", s.name).
		Str("file", filePath).
		Bool("compress", s.compress).
		Bool("encrypted", s.encryptionKey != "").
		Msg("Exporting collection")
	if err := s.db.ExportToFile(filePath, s.compress, s.encryptionKey, s.name); err != nil {
		return ragerr.Retrieval("chromemdb.Export", fmt.Errorf("failed to export database: %w", err))
	}
	if err := writeBinding(exportBindingPath(filePath), s.binding); err != nil {
		return ragerr.Retrieval("chromemdb.Export", fmt.Errorf("failed to write binding: %w", err))
	}
	return nil
}

// Import loads the collection from a file written by Export, replacing the
// current contents. The export must carry a binding to the same embedding
// model and, when both are known, the same dimension.
func (s *Store) Import(ctx context.Context, filePath string) error {
	imported, err := readBinding(exportBindingPath(filePath))
	if errors.Is(err, os.ErrNotExist) {
		return ragerr.Configf("chromemdb.Import", "%s has no embedding model binding", filePath)
	}
	if err != nil {
		return ragerr.Retrieval("chromemdb.Import", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if imported.EmbeddingModel != s.binding.EmbeddingModel {
		return ragerr.Configf("chromemdb.Import", "%s was embedded by %q, collection %q is bound to %q",
			filePath, imported.EmbeddingModel, s.name, s.binding.EmbeddingModel)
	}
	if imported.Dimension > 0 && s.binding.Dimension > 0 && imported.Dimension != s.binding.Dimension {
		return ragerr.Configf("chromemdb.Import", "%s holds %d-dim vectors, collection %q holds %d",
			filePath, imported.Dimension, s.name, s.binding.Dimension)
	}

	previous := s.collection
	if err := s.db.ImportFromFile(filePath, s.encryptionKey, s.name); err != nil {
		s.restore(previous)
		return ragerr.Retrieval("chromemdb.Import", fmt.Errorf("failed to import database: %w", err))
	}
	c := s.db.GetCollection(s.name, nil)
	if c == nil {
		s.restore(previous)
		return ragerr.Retrieval("chromemdb.Import", fmt.Errorf("collection %q not found in %s", s.name, filePath))
	}
	s.collection = c
	if c.Count() > 0 {
		s.binding.Dimension = imported.Dimension
	} else {
		s.binding.Dimension = 0
	}
	log.Info().Str("collection", s.name).Int("records", c.Count()).Msg("Collection imported")
	return s.saveBinding()
}

// restore puts back the collection that was live before a failed import.
func (s *Store) restore(previous *chromem.Collection) {
	if s.db.GetCollection(s.name, nil) != previous {
		log.Warn().Str("collection", s.name).Msg("Import failed, keeping previous collection")
	}
	s.collection = previous
}
