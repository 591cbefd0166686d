// Package branch manages named catalog branches: curated subsets of product
// keys that are served as their own catalog files alongside the full local
// catalog.
//
// Branch membership changes race with the sync pipeline and with each other,
// so every mutation goes through a revision-checked read-modify-write. All
// mutations are idempotent: adding a present product, removing an absent one,
// or re-running a copy leaves the branch unchanged.
package branch

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/jacobfgrant/anejo/errors"
	"github.com/jacobfgrant/anejo/natsclient"
)

// Branch is the persisted state of one catalog branch
type Branch struct {
	Name     string   `json:"catalog_branch"`
	Products []string `json:"product_keys"`
}

// KV is the key-value surface the store needs. natsclient.KVStore satisfies
// it; tests substitute an in-memory implementation.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
}

// Store persists catalog branches, one KV entry per branch
type Store struct {
	kv     KV
	logger *slog.Logger
}

// NewStore creates a branch store over the given bucket
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger.With("component", "branch.Store"),
	}
}

// Create makes an empty branch. Creating a branch that already exists is a
// no-op and never clears its members.
func (s *Store) Create(ctx context.Context, name string) error {
	value, err := json.Marshal(Branch{Name: name, Products: []string{}})
	if err != nil {
		return errors.Wrap(err, "Branch", "Create", "marshal branch "+name)
	}

	_, err = s.kv.Create(ctx, name, value)
	if err != nil {
		if errors.Is(err, errors.ErrKeyExists) {
			return nil
		}
		return errors.Wrap(err, "Branch", "Create", "create branch "+name)
	}

	s.logger.Info("created catalog branch", "branch", name)
	return nil
}

// Delete removes a branch. Deleting an absent branch is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.kv.Delete(ctx, name); err != nil && !errors.Is(err, errors.ErrKeyNotFound) {
		return errors.Wrap(err, "Branch", "Delete", "delete branch "+name)
	}
	return nil
}

// Get returns the branch with the given name, or errors.ErrBranchNotFound
func (s *Store) Get(ctx context.Context, name string) (*Branch, error) {
	entry, err := s.kv.Get(ctx, name)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return nil, errors.ErrBranchNotFound
		}
		return nil, errors.Wrap(err, "Branch", "Get", "read branch "+name)
	}
	return decodeBranch(name, entry.Value)
}

// List returns the names of every branch, sorted
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Branch", "List", "list branches")
	}
	slices.Sort(names)
	return names, nil
}

// Add puts a product key on a branch. Adding a product that is already a
// member writes nothing.
func (s *Store) Add(ctx context.Context, name, productKey string) error {
	err := s.update(ctx, name, func(b *Branch) bool {
		if slices.Contains(b.Products, productKey) {
			return false
		}
		b.Products = append(b.Products, productKey)
		slices.Sort(b.Products)
		return true
	})
	if err != nil {
		return errors.Wrap(err, "Branch", "Add", "add "+productKey+" to branch "+name)
	}
	return nil
}

// Remove takes a product key off a branch. Removing a non-member writes
// nothing.
func (s *Store) Remove(ctx context.Context, name, productKey string) error {
	err := s.update(ctx, name, func(b *Branch) bool {
		i := slices.Index(b.Products, productKey)
		if i < 0 {
			return false
		}
		b.Products = slices.Delete(b.Products, i, i+1)
		return true
	})
	if err != nil {
		return errors.Wrap(err, "Branch", "Remove", "remove "+productKey+" from branch "+name)
	}
	return nil
}

// Copy unions the source branch's products into the destination branch,
// returning the product keys that were newly added. Running the same copy
// again returns an empty slice and writes nothing.
func (s *Store) Copy(ctx context.Context, dst, src string) ([]string, error) {
	source, err := s.Get(ctx, src)
	if err != nil {
		return nil, err
	}

	var added []string
	err = s.update(ctx, dst, func(b *Branch) bool {
		added = added[:0]
		for _, key := range source.Products {
			if !slices.Contains(b.Products, key) {
				added = append(added, key)
			}
		}
		if len(added) == 0 {
			return false
		}
		b.Products = append(b.Products, added...)
		slices.Sort(b.Products)
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "Branch", "Copy", "copy branch "+src+" into "+dst)
	}

	slices.Sort(added)
	return added, nil
}

// update runs a read-modify-write on one branch. mutate returns whether the
// branch changed; an unchanged branch is not rewritten. The branch must
// exist.
func (s *Store) update(ctx context.Context, name string, mutate func(*Branch) bool) error {
	return s.kv.UpdateWithRetry(ctx, name, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrBranchNotFound
		}
		b, err := decodeBranch(name, current)
		if err != nil {
			return nil, err
		}
		if !mutate(b) {
			return nil, nil
		}
		return json.Marshal(b)
	})
}

func decodeBranch(name string, data []byte) (*Branch, error) {
	var b Branch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.WrapInvalid(err, "Branch", "decodeBranch", "unmarshal branch "+name)
	}
	if b.Name == "" {
		b.Name = name
	}
	if b.Products == nil {
		b.Products = []string{}
	}
	return &b, nil
}
