package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/id"
	"github.com/listenupapp/circulation-server/internal/util"
)

// CreateCategory stores a new category. Names that slug the same collide.
func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	c.Slug = util.Slugify(c.Name)
	return s.update(ctx, func(txn *badger.Txn) error {
		return s.categories.Create(txn, c.ID, c)
	})
}

// GetCategoryByName resolves a category by name or slug.
func (s *Store) GetCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	var c *domain.Category
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		c, err = s.categories.GetByIndex(txn, indexSlug, name)
		return err
	})
	return c, err
}

// ListCategories returns categories sorted by name.
func (s *Store) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	var out []*domain.Category
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = s.categories.All(txn)
		return err
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b *domain.Category) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out, nil
}

// SeedCategories creates any of cats that do not exist yet and reports how
// many were added. Safe to run on every start.
func (s *Store) SeedCategories(ctx context.Context, cats []domain.Category) (int, error) {
	added := 0
	for _, c := range cats {
		c.ID = id.MustGenerate(id.PrefixCategory)
		c.InitTimestamps(time.Now())

		err := s.CreateCategory(ctx, &c)
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}

	if added > 0 {
		s.logger.Info("seeded categories", "added", added)
	}
	return added, nil
}
