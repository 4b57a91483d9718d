package pdf

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateStatementProducesPDF(t *testing.T) {
	r, err := New().GenerateStatement(context.Background(), StatementData{
		PlatformName: "penwork",
		StatementID:  "7_2026-02",
		WriterID:     "7",
		Period:       "2026-02",
		Status:       "due",
		Currency:     "LKR",
		Items: []StatementItem{
			{AssignmentID: "1", Title: "Essay", CompletedAt: "2026-02-03", PayoutStatus: "none", Amount: "80.00"},
		},
		TotalAmount:   "80.00",
		PaidAmount:    "0.00",
		DueAmount:     "80.00",
		PendingAmount: "0.00",
	})
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}
