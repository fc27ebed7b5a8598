package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/store"
)

var _ store.SearchIndexer = (*SearchIndex)(nil)

// SearchIndex wraps a Bleve index with domain-specific operations.
//
// Thread safety: All public methods are safe for concurrent use.
// The mutex protects against index corruption during rebuild operations.
type SearchIndex struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex // Protects index operations during rebuild
}

// Options configures the search index.
type Options struct {
	DataPath string       // Directory for index storage
	Logger   *slog.Logger // Logger for operations (uses discard if nil)
}

// mappingVersion is incremented whenever the index mapping changes.
// This triggers an automatic rebuild on startup when the version doesn't match.
const mappingVersion = "1"

// NewSearchIndex creates or opens a search index under opts.DataPath.
// An index written with another mapping version, or one bleve cannot open,
// is removed and recreated empty. The store's records stay authoritative,
// so the caller reindexes from them at startup.
func NewSearchIndex(opts Options) (*SearchIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(opts.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create search dir: %w", err)
	}

	indexPath := filepath.Join(opts.DataPath, "search.bleve")
	versionPath := filepath.Join(opts.DataPath, "search.version")

	index, err := openCurrent(indexPath, versionPath, logger)
	if err != nil {
		return nil, err
	}

	if index == nil {
		// Whatever is on disk is stale or unreadable.
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("remove old index: %w", err)
		}
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		// Without the version file the next start rebuilds again.
		if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
			logger.Warn("failed to write search version file", "error", err)
		}
		logger.Info("created new search index", "path", indexPath, "mapping_version", mappingVersion)
	} else {
		logger.Info("opened existing search index", "path", indexPath)
	}

	return &SearchIndex{
		index:  index,
		path:   indexPath,
		logger: logger,
	}, nil
}

// openCurrent opens the index at indexPath if it exists and was written with
// the current mapping version. It returns nil, nil when a fresh index is needed.
func openCurrent(indexPath, versionPath string, logger *slog.Logger) (bleve.Index, error) {
	if _, err := os.Stat(indexPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}

	version, err := os.ReadFile(versionPath)
	if err != nil || string(version) != mappingVersion {
		logger.Info("search index mapping version changed, will rebuild",
			"old_version", string(version),
			"new_version", mappingVersion,
		)
		return nil, nil
	}

	index, err := bleve.Open(indexPath)
	if err != nil {
		logger.Warn("failed to open existing index, will recreate",
			"path", indexPath,
			"error", err,
		)
		return nil, nil
	}
	return index, nil
}

// Close closes the index and releases resources.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexDocument indexes a single document.
func (s *SearchIndex) IndexDocument(doc *SearchDocument) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// The map form carries the lowercase field names the mapping expects.
	return s.index.Index(doc.ID, doc.ToMap())
}

// IndexDocuments indexes docs in bleve batches of at most 500, so a full
// reindex of a large catalog does not build one huge batch in memory.
func (s *SearchIndex) IndexDocuments(docs []*SearchDocument) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const batchSize = 500

	for i := 0; i < len(docs); i += batchSize {
		end := min(i+batchSize, len(docs))

		batch := s.index.NewBatch()
		for _, doc := range docs[i:end] {
			if err := batch.Index(doc.ID, doc.ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", doc.ID, err)
			}
		}

		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// DeleteDocument removes a document from the index.
func (s *SearchIndex) DeleteDocument(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Delete(id)
}

// IndexBook adds or replaces a book.
func (s *SearchIndex) IndexBook(_ context.Context, book *domain.Book) error {
	return s.IndexDocument(BookToSearchDocument(book))
}

// DeleteBook removes a book.
func (s *SearchIndex) DeleteBook(_ context.Context, bookID string) error {
	return s.DeleteDocument(bookID)
}

// IndexBorrower adds or replaces a borrower.
func (s *SearchIndex) IndexBorrower(_ context.Context, b *domain.Borrower) error {
	return s.IndexDocument(BorrowerToSearchDocument(b))
}

// DeleteBorrower removes a borrower.
func (s *SearchIndex) DeleteBorrower(_ context.Context, borrowerID string) error {
	return s.DeleteDocument(borrowerID)
}

// DocumentCount returns the total number of indexed documents.
func (s *SearchIndex) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild drops the existing index and creates a new, empty one.
//
// IMPORTANT: This acquires an exclusive lock and blocks all other operations.
func (s *SearchIndex) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}

	index, err := bleve.New(s.path, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	s.index = index
	s.logger.Info("rebuilt search index", "path", s.path)

	return nil
}

// Reindex rebuilds the index from the given records. Searches issued while
// it runs see a partially filled index.
func (s *SearchIndex) Reindex(books []*domain.Book, borrowers []*domain.Borrower) error {
	if err := s.Rebuild(); err != nil {
		return err
	}

	docs := make([]*SearchDocument, 0, len(books)+len(borrowers))
	for _, b := range books {
		docs = append(docs, BookToSearchDocument(b))
	}
	for _, b := range borrowers {
		docs = append(docs, BorrowerToSearchDocument(b))
	}

	if err := s.IndexDocuments(docs); err != nil {
		return err
	}
	s.logger.Info("search index populated", "books", len(books), "borrowers", len(borrowers))
	return nil
}
