package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a pre-formatted payout statement. Amounts arrive as
// display strings so the renderer never does arithmetic.
type StatementData struct {
	PlatformName string
	StatementID  string
	WriterID     string
	Period       string
	IssuedAt     string
	Status       string
	Currency     string

	Items []StatementItem

	TotalAmount   string
	PaidAmount    string
	DueAmount     string
	PendingAmount string
	ProofRef      string
}

type StatementItem struct {
	AssignmentID string
	Title        string
	CompletedAt  string
	PayoutStatus string
	Amount       string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payout statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.PlatformName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Statement: "+data.StatementID, props.Text{Top: 0}),
			text.New("Writer: "+data.WriterID, props.Text{Top: 5}),
			text.New("Period: "+data.Period, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 0, Align: align.Right}),
			text.New("Status: "+data.Status, props.Text{Top: 5, Align: align.Right}),
			text.New("Currency: "+data.Currency, props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(2, "Assignment", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Title", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Completed", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Payout", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range data.Items {
		m.AddRow(8,
			text.NewCol(2, item.AssignmentID, props.Text{Size: 8}),
			text.NewCol(4, item.Title, props.Text{Size: 8}),
			text.NewCol(2, item.CompletedAt, props.Text{Size: 8}),
			text.NewCol(2, item.PayoutStatus, props.Text{Size: 8}),
			text.NewCol(2, item.Amount, props.Text{Size: 8, Align: align.Right}),
		)
	}

	totals := []struct{ label, value string }{
		{"Total", data.TotalAmount},
		{"Paid", data.PaidAmount},
		{"Due", data.DueAmount},
		{"Pending", data.PendingAmount},
	}
	for _, line := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, line.label, props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(2, line.value, props.Text{Size: 9, Align: align.Right}),
		)
	}

	if data.ProofRef != "" {
		m.AddRow(12,
			text.NewCol(12, "Payout proof: "+data.ProofRef, props.Text{Size: 8, Top: 4}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
