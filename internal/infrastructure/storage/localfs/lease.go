package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const lockRetryDelay = 50 * time.Millisecond

// Lease stores the re-index lease as a JSON file. Every read-modify-write of
// that file happens under an flock on a sibling lock file, which excludes
// other processes on the same host.
type Lease struct {
	leasePath string
	lockPath  string
	now       func() time.Time
}

func NewLease(basePath string) (*Lease, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create lease dir: %w", err)
	}
	return &Lease{
		leasePath: filepath.Join(basePath, "reindex.lease.json"),
		lockPath:  filepath.Join(basePath, "reindex.lease.lock"),
		now:       time.Now,
	}, nil
}

func (l *Lease) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if holder == "" || ttl <= 0 {
		return false, domain.WrapError(domain.ErrInvalidInput, "acquire lease", fmt.Errorf("holder and ttl are required"))
	}
	acquired := false
	err := l.withLock(ctx, func() error {
		current, err := l.read()
		if err != nil {
			return err
		}
		now := l.now().UTC()
		if current.Active(now) && current.Holder != holder {
			return nil
		}
		if err := l.write(domain.Lease{Holder: holder, ExpiresAt: now.Add(ttl)}); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (l *Lease) Release(ctx context.Context, holder string) error {
	return l.withLock(ctx, func() error {
		current, err := l.read()
		if err != nil {
			return err
		}
		if current.Holder != holder {
			return nil
		}
		if err := os.Remove(l.leasePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove lease file: %w", err)
		}
		return nil
	})
}

func (l *Lease) Current(context.Context) (domain.Lease, error) {
	return l.read()
}

func (l *Lease) withLock(ctx context.Context, fn func() error) error {
	lock := flock.New(l.lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock lease file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock lease file: not acquired")
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}

func (l *Lease) read() (domain.Lease, error) {
	data, err := os.ReadFile(l.leasePath)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Lease{}, nil
	}
	if err != nil {
		return domain.Lease{}, fmt.Errorf("read lease file: %w", err)
	}
	var lease domain.Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return domain.Lease{}, fmt.Errorf("decode lease file: %w", err)
	}
	return lease, nil
}

func (l *Lease) write(lease domain.Lease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	return writeFileAtomic(l.leasePath, data)
}
