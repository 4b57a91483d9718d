package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
)

type periodKey struct {
	writer snowflake.ID
	period string
}

// ComputePaysheets derives every writer's monthly periods from a snapshot of
// assignments. It is pure: the same input, asOf and location always yield
// identical output.
func ComputePaysheets(assignments []assignmentdomain.Assignment, asOf time.Time, loc *time.Location) []Period {
	if loc == nil {
		loc = time.UTC
	}
	current := asOf.In(loc).Format(PeriodLayout)

	periods := make(map[periodKey]*Period)
	for _, a := range assignments {
		if !a.HasWriter() || !a.WriterPrice.Valid {
			continue
		}
		row, month := rowFor(a, current, loc)
		key := periodKey{writer: *a.WriterID, period: month}
		p := periods[key]
		if p == nil {
			p = newPeriod(PeriodID(key.writer, month), key.writer, month)
			periods[key] = p
		}
		p.add(row)
	}

	out := make([]Period, 0, len(periods))
	for _, p := range periods {
		p.finish(current)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WriterID != out[j].WriterID {
			return out[i].WriterID < out[j].WriterID
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// ComputeIndividual is the one-row payout view of a single assignment.
func ComputeIndividual(a assignmentdomain.Assignment, asOf time.Time, loc *time.Location) (Period, bool) {
	if !a.HasWriter() || !a.WriterPrice.Valid {
		return Period{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	current := asOf.In(loc).Format(PeriodLayout)
	row, month := rowFor(a, current, loc)
	p := newPeriod(IndividualID(a.ID), *a.WriterID, month)
	p.Individual = true
	p.add(row)
	p.finish(current)
	return *p, true
}

// GroupByWriter folds periods into the per-writer view, keeping writer order.
func GroupByWriter(periods []Period) []WriterPaysheets {
	var out []WriterPaysheets
	index := make(map[snowflake.ID]int)
	for _, p := range periods {
		i, ok := index[p.WriterID]
		if !ok {
			i = len(out)
			index[p.WriterID] = i
			out = append(out, WriterPaysheets{WriterID: p.WriterID, MonthlyTotals: []Period{}, Assignments: []Row{}})
		}
		out[i].MonthlyTotals = append(out[i].MonthlyTotals, p)
		out[i].Assignments = append(out[i].Assignments, p.Assignments...)
	}
	for i := range out {
		sortRows(out[i].Assignments)
	}
	return out
}

// FilterByStatus keeps periods in status; writers left without periods are dropped.
func FilterByStatus(sheets []WriterPaysheets, status PaysheetStatus) []WriterPaysheets {
	out := make([]WriterPaysheets, 0, len(sheets))
	for _, sheet := range sheets {
		var kept []Period
		for _, p := range sheet.MonthlyTotals {
			if p.Status == status {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			continue
		}
		grouped := GroupByWriter(kept)
		out = append(out, grouped[0])
	}
	return out
}

// TotalsEqual compares the derived amounts and rows of two period lists.
func TotalsEqual(a, b []Period) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Status != y.Status || x.IsCurrentMonth != y.IsCurrentMonth || len(x.Assignments) != len(y.Assignments) {
			return false
		}
		if !x.TotalAmount.Equal(y.TotalAmount) ||
			!x.PaidAmount.Equal(y.PaidAmount) ||
			!x.DueAmount.Equal(y.DueAmount) ||
			!x.PendingAmount.Equal(y.PendingAmount) ||
			!x.InProgressAmount.Equal(y.InProgressAmount) {
			return false
		}
		for j := range x.Assignments {
			r, s := x.Assignments[j], y.Assignments[j]
			if r.AssignmentID != s.AssignmentID || r.PayoutStatus != s.PayoutStatus || !r.WriterPrice.Equal(s.WriterPrice) {
				return false
			}
		}
	}
	return true
}

func rowFor(a assignmentdomain.Assignment, current string, loc *time.Location) (Row, string) {
	row := Row{
		AssignmentID: a.ID,
		Title:        a.Title,
		WriterPrice:  a.WriterPrice.Decimal,
		Status:       a.Status,
		PayoutStatus: a.PayoutStatus,
		CompletedAt:  a.CompletedAt,
		PaidOutAt:    a.PaidOutAt,
		PayoutProof:  a.PayoutProof,
	}
	if row.PayoutStatus == "" {
		row.PayoutStatus = assignmentdomain.PayoutStatusNone
	}
	if a.CompletedAt == nil {
		row.InProgress = true
		return row, current
	}
	return row, a.CompletedAt.In(loc).Format(PeriodLayout)
}

func newPeriod(id string, writer snowflake.ID, month string) *Period {
	return &Period{
		ID:               id,
		WriterID:         writer,
		Period:           month,
		TotalAmount:      decimal.Zero,
		PaidAmount:       decimal.Zero,
		DueAmount:        decimal.Zero,
		PendingAmount:    decimal.Zero,
		InProgressAmount: decimal.Zero,
	}
}

func (p *Period) add(row Row) {
	p.Assignments = append(p.Assignments, row)
	if row.InProgress {
		p.PendingAmount = p.PendingAmount.Add(row.WriterPrice)
		p.InProgressAmount = p.InProgressAmount.Add(row.WriterPrice)
		return
	}
	p.TotalAmount = p.TotalAmount.Add(row.WriterPrice)
	switch row.PayoutStatus {
	case assignmentdomain.PayoutStatusPaid:
		p.PaidAmount = p.PaidAmount.Add(row.WriterPrice)
	case assignmentdomain.PayoutStatusPending:
		p.PendingAmount = p.PendingAmount.Add(row.WriterPrice)
	default:
		p.DueAmount = p.DueAmount.Add(row.WriterPrice)
	}
}

func (p *Period) finish(current string) {
	sortRows(p.Assignments)
	p.IsCurrentMonth = p.Period == current
	if p.IsCurrentMonth {
		toPay := p.DueAmount.Add(p.PendingAmount)
		p.TotalToPay = &toPay
	}

	// Pending is reserved for payouts awaiting settlement; unfinished work
	// alone leaves the period due.
	switch {
	case p.DueAmount.IsZero() && p.PendingAmount.IsZero():
		p.Status = StatusPaid
		p.ProofURL = latestProof(p.Assignments)
	case p.PayoutPendingAmount().IsPositive():
		p.Status = StatusPending
	default:
		p.Status = StatusDue
	}
}

func latestProof(rows []Row) *string {
	var (
		proof  *string
		latest time.Time
	)
	for _, row := range rows {
		if row.PayoutProof == nil || row.PaidOutAt == nil {
			continue
		}
		if proof == nil || !row.PaidOutAt.Before(latest) {
			proof = row.PayoutProof
			latest = *row.PaidOutAt
		}
	}
	return proof
}

// sortRows orders by completion, then id; unfinished work goes last.
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.CompletedAt == nil && b.CompletedAt != nil:
			return false
		case a.CompletedAt != nil && b.CompletedAt == nil:
			return true
		case a.CompletedAt != nil && b.CompletedAt != nil && !a.CompletedAt.Equal(*b.CompletedAt):
			return a.CompletedAt.Before(*b.CompletedAt)
		}
		return a.AssignmentID < b.AssignmentID
	})
}
