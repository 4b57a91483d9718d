package domain

import (
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func assignment(id, writer int64, price string, completedAt *time.Time, payout assignmentdomain.PayoutStatus) assignmentdomain.Assignment {
	a := assignmentdomain.Assignment{
		ID:           snowflake.ID(id),
		ClientID:     snowflake.ID(1),
		Status:       assignmentdomain.StatusInProgress,
		ClientPrice:  assignmentdomain.PriceOf(decimal.RequireFromString("500")),
		PayoutStatus: payout,
		CompletedAt:  completedAt,
	}
	if writer != 0 {
		w := snowflake.ID(writer)
		a.WriterID = &w
	}
	if price != "" {
		a.WriterPrice = assignmentdomain.PriceOf(decimal.RequireFromString(price))
	}
	if completedAt != nil {
		a.Status = assignmentdomain.StatusCompleted
	}
	return a
}

func at(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 10, 0, 0, 0, time.UTC)
	return &t
}

func TestComputePaysheetsBucketsByPayoutStatus(t *testing.T) {
	items := []assignmentdomain.Assignment{
		assignment(1, 7, "100", at(2026, 2, 3), assignmentdomain.PayoutStatusPaid),
		assignment(2, 7, "50.25", at(2026, 2, 20), assignmentdomain.PayoutStatusNone),
		assignment(3, 7, "30", at(2026, 2, 21), assignmentdomain.PayoutStatusPending),
		assignment(4, 7, "60", nil, assignmentdomain.PayoutStatusNone),
		assignment(5, 7, "", at(2026, 2, 1), assignmentdomain.PayoutStatusNone),
		assignment(6, 0, "", nil, assignmentdomain.PayoutStatusNone),
	}

	periods := ComputePaysheets(items, asOf, time.UTC)
	require.Len(t, periods, 2)

	feb := periods[0]
	require.Equal(t, "2026-02", feb.Period)
	require.Equal(t, "7_2026-02", feb.ID)
	require.True(t, feb.TotalAmount.Equal(decimal.RequireFromString("180.25")))
	require.True(t, feb.PaidAmount.Equal(decimal.NewFromInt(100)))
	require.True(t, feb.DueAmount.Equal(decimal.RequireFromString("50.25")))
	require.True(t, feb.PendingAmount.Equal(decimal.NewFromInt(30)))
	require.Equal(t, StatusPending, feb.Status)
	require.False(t, feb.IsCurrentMonth)
	require.Nil(t, feb.TotalToPay)
	require.Equal(t, []snowflake.ID{2}, feb.DueAssignmentIDs())
	require.Equal(t, []snowflake.ID{3}, feb.PendingAssignmentIDs())

	mar := periods[1]
	require.Equal(t, "2026-03", mar.Period)
	require.True(t, mar.IsCurrentMonth)
	require.True(t, mar.TotalAmount.IsZero())
	require.True(t, mar.PendingAmount.Equal(decimal.NewFromInt(60)))
	require.True(t, mar.InProgressAmount.Equal(decimal.NewFromInt(60)))
	require.NotNil(t, mar.TotalToPay)
	require.True(t, mar.TotalToPay.Equal(decimal.NewFromInt(60)))
	require.Empty(t, mar.DueAssignmentIDs())
}

func TestPaysheetStatusDerivation(t *testing.T) {
	proof := "payouts/feb.pdf"
	paid := assignment(1, 7, "10", at(2026, 1, 5), assignmentdomain.PayoutStatusPaid)
	paid.PayoutProof = &proof
	paid.PaidOutAt = at(2026, 2, 1)

	periods := ComputePaysheets([]assignmentdomain.Assignment{paid}, asOf, time.UTC)
	require.Equal(t, StatusPaid, periods[0].Status)
	require.Equal(t, proof, *periods[0].ProofURL)

	due := assignment(2, 7, "10", at(2026, 1, 6), assignmentdomain.PayoutStatusNone)
	periods = ComputePaysheets([]assignmentdomain.Assignment{paid, due}, asOf, time.UTC)
	require.Equal(t, StatusDue, periods[0].Status)
	require.Nil(t, periods[0].ProofURL)
}

// Scenario D: pending before completion, due after.
func TestInProgressWorkMovesToDueOnCompletion(t *testing.T) {
	a := assignment(1, 7, "60", nil, assignmentdomain.PayoutStatusNone)
	before := ComputePaysheets([]assignmentdomain.Assignment{a}, asOf, time.UTC)
	require.Len(t, before, 1)
	require.True(t, before[0].PendingAmount.Equal(decimal.NewFromInt(60)))
	require.True(t, before[0].DueAmount.IsZero())
	require.True(t, before[0].PayoutPendingAmount().IsZero())
	require.Equal(t, StatusDue, before[0].Status)

	a.CompletedAt = at(2026, 3, 14)
	after := ComputePaysheets([]assignmentdomain.Assignment{a}, asOf, time.UTC)
	require.True(t, after[0].PendingAmount.IsZero())
	require.True(t, after[0].DueAmount.Equal(decimal.NewFromInt(60)))
	require.True(t, after[0].TotalAmount.Equal(decimal.NewFromInt(60)))
	require.Equal(t, StatusDue, after[0].Status)

	a.PayoutStatus = assignmentdomain.PayoutStatusPaid
	paid := ComputePaysheets([]assignmentdomain.Assignment{a}, asOf, time.UTC)
	require.True(t, paid[0].PaidAmount.Equal(decimal.NewFromInt(60)))
	require.Equal(t, StatusPaid, paid[0].Status)
}

func TestPendingStatusNeedsAReservedPayout(t *testing.T) {
	drafting := assignment(1, 7, "25", nil, assignmentdomain.PayoutStatusNone)
	periods := ComputePaysheets([]assignmentdomain.Assignment{drafting}, asOf, time.UTC)
	require.Len(t, periods, 1)
	require.True(t, periods[0].InProgressAmount.Equal(decimal.NewFromInt(25)))
	require.Equal(t, StatusDue, periods[0].Status)

	reserved := assignment(2, 7, "40", at(2026, 3, 2), assignmentdomain.PayoutStatusPending)
	periods = ComputePaysheets([]assignmentdomain.Assignment{drafting, reserved}, asOf, time.UTC)
	require.Len(t, periods, 1)
	require.True(t, periods[0].PayoutPendingAmount().Equal(decimal.NewFromInt(40)))
	require.Equal(t, StatusPending, periods[0].Status)
}

func TestPeriodFollowsLocation(t *testing.T) {
	colombo, err := time.LoadLocation("Asia/Colombo")
	require.NoError(t, err)
	late := time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC)
	a := assignment(1, 7, "10", &late, assignmentdomain.PayoutStatusNone)

	require.Equal(t, "2026-01", ComputePaysheets([]assignmentdomain.Assignment{a}, asOf, time.UTC)[0].Period)
	require.Equal(t, "2026-02", ComputePaysheets([]assignmentdomain.Assignment{a}, asOf, colombo)[0].Period)
}

func randomAssignments(rng *rand.Rand, n int) []assignmentdomain.Assignment {
	statuses := []assignmentdomain.PayoutStatus{
		assignmentdomain.PayoutStatusNone,
		assignmentdomain.PayoutStatusPending,
		assignmentdomain.PayoutStatusPaid,
	}
	items := make([]assignmentdomain.Assignment, 0, n)
	for i := 0; i < n; i++ {
		var completed *time.Time
		if rng.Intn(4) != 0 {
			completed = at(2025+rng.Intn(2), time.Month(rng.Intn(12)+1), rng.Intn(28)+1)
		}
		cents := decimal.New(int64(rng.Intn(100000)+1), -2)
		items = append(items, assignment(int64(i+1), int64(rng.Intn(4)+1), cents.String(), completed, statuses[rng.Intn(3)]))
	}
	return items
}

func TestComputePaysheetsIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	items := randomAssignments(rng, 200)

	first := ComputePaysheets(items, asOf, time.UTC)
	shuffled := append([]assignmentdomain.Assignment(nil), items...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second := ComputePaysheets(shuffled, asOf, time.UTC)

	require.True(t, TotalsEqual(first, second))
	require.Equal(t, first, second)
}

func TestTotalAmountSumLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	items := randomAssignments(rng, 300)
	periods := ComputePaysheets(items, asOf, time.UTC)

	expected := map[snowflake.ID]decimal.Decimal{}
	for _, a := range items {
		if a.CompletedAt == nil {
			continue
		}
		expected[*a.WriterID] = expected[*a.WriterID].Add(a.WriterPrice.Decimal)
	}
	actual := map[snowflake.ID]decimal.Decimal{}
	for _, p := range periods {
		actual[p.WriterID] = actual[p.WriterID].Add(p.TotalAmount)
		require.True(t, p.TotalAmount.Equal(p.PaidAmount.Add(p.DueAmount).Add(p.PayoutPendingAmount())), p.ID)
	}
	require.Len(t, actual, len(expected))
	for writer, sum := range expected {
		require.True(t, sum.Equal(actual[writer]), "writer %s", writer)
	}
}

func TestComputeIndividual(t *testing.T) {
	a := assignment(42, 7, "75", at(2026, 2, 2), assignmentdomain.PayoutStatusNone)
	p, ok := ComputeIndividual(a, asOf, time.UTC)
	require.True(t, ok)
	require.True(t, p.Individual)
	require.Equal(t, "assignment-42", p.ID)
	require.Equal(t, StatusDue, p.Status)
	require.Len(t, p.Assignments, 1)

	_, ok = ComputeIndividual(assignment(43, 0, "", nil, assignmentdomain.PayoutStatusNone), asOf, time.UTC)
	require.False(t, ok)
}

func TestGroupAndFilter(t *testing.T) {
	items := []assignmentdomain.Assignment{
		assignment(1, 7, "10", at(2026, 1, 2), assignmentdomain.PayoutStatusPaid),
		assignment(2, 7, "20", at(2026, 2, 2), assignmentdomain.PayoutStatusNone),
		assignment(3, 9, "30", at(2026, 2, 3), assignmentdomain.PayoutStatusNone),
	}
	grouped := GroupByWriter(ComputePaysheets(items, asOf, time.UTC))
	require.Len(t, grouped, 2)
	require.Equal(t, snowflake.ID(7), grouped[0].WriterID)
	require.Len(t, grouped[0].MonthlyTotals, 2)
	require.Len(t, grouped[0].Assignments, 2)

	due := FilterByStatus(grouped, StatusDue)
	require.Len(t, due, 2)
	require.Len(t, due[0].MonthlyTotals, 1)
	require.Equal(t, "2026-02", due[0].MonthlyTotals[0].Period)

	paid := FilterByStatus(grouped, StatusPaid)
	require.Len(t, paid, 1)
}

func TestParseID(t *testing.T) {
	key, err := ParseID("7_2026-02")
	require.NoError(t, err)
	require.Equal(t, Key{WriterID: 7, Period: "2026-02"}, key)

	key, err = ParseID("assignment-42")
	require.NoError(t, err)
	require.True(t, key.Individual())

	for _, bad := range []string{"", "7", "7_2026-13", "x_2026-01", "assignment-abc"} {
		_, err := ParseID(bad)
		require.ErrorIs(t, err, ErrInvalidPaysheetID, bad)
	}
}
