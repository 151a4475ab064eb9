package s3

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store reads and writes artifacts addressed either as a local path or as
// an s3:// URI. The object storage client is created on first s3:// use.
type Store struct {
	opts Options

	newClient func(ctx context.Context, opts Options) (*Client, error)

	mu     sync.Mutex
	client *Client
}

// NewStore returns a store using opts for s3:// locations.
func NewStore(opts Options) *Store {
	return &Store{opts: opts, newClient: NewClient}
}

// NewStoreWithClient returns a store backed by an existing client.
func NewStoreWithClient(c *Client) *Store {
	return &Store{client: c}
}

func (s *Store) s3(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c, err := s.newClient(ctx, s.opts)
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// Read returns the artifact at target. A missing artifact yields an error
// wrapping ErrNotFound for both forms.
func (s *Store) Read(ctx context.Context, target string) ([]byte, error) {
	if !IsURI(target) {
		data, err := os.ReadFile(target) //nolint:gosec // caller-supplied path
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", target, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", target, err)
		}
		return data, nil
	}

	loc, err := ParseURI(target)
	if err != nil {
		return nil, err
	}
	c, err := s.s3(ctx)
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, loc)
}

// Write stores data at target. Local files are written atomically with the
// given mode.
func (s *Store) Write(ctx context.Context, target string, data []byte, mode fs.FileMode) error {
	if !IsURI(target) {
		return writeFileAtomic(target, data, mode)
	}

	loc, err := ParseURI(target)
	if err != nil {
		return err
	}
	c, err := s.s3(ctx)
	if err != nil {
		return err
	}
	return c.Put(ctx, loc, data, "text/plain")
}

func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
