package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrStorageUnavailable marks a failed write; nothing was stored.
	ErrStorageUnavailable = errors.New("storage_unavailable")
	ErrInvalidReference   = errors.New("invalid_file_reference")
	ErrFileNotFound       = errors.New("file_not_found")
	ErrEmptyFile          = errors.New("empty_file")
)

const (
	CategoryPaymentProof = "payment-proofs"
	CategoryPayoutProof  = "payout-proofs"
	CategoryDeliverable  = "deliverables"
	CategoryReport       = "reports"
	CategoryAttachment   = "attachments"
)

var Module = fx.Module("storage",
	fx.Provide(New),
)

// Store persists uploaded files and hands back opaque references.
type Store interface {
	Save(ctx context.Context, category, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

type FileStore struct {
	fs  afero.Fs
	log *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return NewFileStore(afero.NewMemMapFs(), log), nil
	case "", "os":
		base := strings.TrimSpace(cfg.Storage.BaseDir)
		if base == "" {
			base = "./data/files"
		}
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return NewFileStore(afero.NewBasePathFs(afero.NewOsFs(), base), log), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func NewFileStore(fs afero.Fs, log *zap.Logger) *FileStore {
	return &FileStore{fs: fs, log: log.Named("storage")}
}

func (s *FileStore) Save(ctx context.Context, category, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	category = slug.Make(category)
	if category == "" {
		return "", ErrInvalidReference
	}
	ref := path.Join(category, storedName(filename))

	if err := s.fs.MkdirAll(category, 0o755); err != nil {
		return "", s.unavailable("mkdir", ref, err)
	}
	f, err := s.fs.Create(ref)
	if err != nil {
		return "", s.unavailable("create", ref, err)
	}
	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr == nil && written == 0 {
		copyErr = ErrEmptyFile
	}
	if copyErr != nil || closeErr != nil {
		_ = s.fs.Remove(ref)
		if errors.Is(copyErr, ErrEmptyFile) {
			return "", ErrEmptyFile
		}
		return "", s.unavailable("write", ref, errors.Join(copyErr, closeErr))
	}
	return ref, nil
}

func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean("/" + strings.TrimSpace(ref))[1:]
	if clean == "" || clean != strings.TrimSpace(ref) {
		return nil, ErrInvalidReference
	}
	f, err := s.fs.Open(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, s.unavailable("open", clean, err)
	}
	return f, nil
}

func (s *FileStore) unavailable(op, ref string, err error) error {
	s.log.Warn("storage operation failed", zap.String("op", op), zap.String("ref", ref), zap.Error(err))
	return fmt.Errorf("%w: %s %s: %v", ErrStorageUnavailable, op, ref, err)
}

// storedName keeps a readable slug of the upload name behind a unique prefix.
func storedName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "file"
	}
	if len(stem) > 64 {
		stem = stem[:64]
	}
	if ext != "" {
		ext = "." + slug.Make(ext[1:])
		if ext == "." {
			ext = ""
		}
	}
	return strings.ToLower(ulid.Make().String()) + "-" + stem + ext
}
