package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaveAndOpen(t *testing.T) {
	store := NewFileStore(afero.NewMemMapFs(), zap.NewNop())
	ctx := context.Background()

	ref, err := store.Save(ctx, CategoryPaymentProof, "Bank Slip (March).PNG", strings.NewReader("slip"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "payment-proofs/"))
	require.True(t, strings.HasSuffix(ref, "-bank-slip-march.png"))

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "slip", string(body))
}

func TestSaveRejectsEmptyUpload(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, zap.NewNop())

	_, err := store.Save(context.Background(), CategoryDeliverable, "final.docx", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyFile)

	entries, err := afero.ReadDir(fs, CategoryDeliverable)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReadOnlyFilesystemIsUnavailable(t *testing.T) {
	store := NewFileStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), zap.NewNop())
	_, err := store.Save(context.Background(), CategoryPayoutProof, "proof.pdf", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestFailedCopyLeavesNothingBehind(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, zap.NewNop())
	_, err := store.Save(context.Background(), CategoryReport, "report.pdf", failingReader{})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	entries, err := afero.ReadDir(fs, CategoryReport)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOpenRejectsTraversal(t *testing.T) {
	store := NewFileStore(afero.NewMemMapFs(), zap.NewNop())
	_, err := store.Open(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, ErrInvalidReference)

	_, err = store.Open(context.Background(), "reports/missing.pdf")
	require.ErrorIs(t, err, ErrFileNotFound)
	require.False(t, errors.Is(err, os.ErrNotExist))
}
