package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/smallbiznis/penwork/internal/assignment/repository"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/internal/testkit"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	admin   = actorcontext.Actor{ID: snowflake.ID(1), Role: actorcontext.RoleAdmin}
	client  = actorcontext.Actor{ID: snowflake.ID(100), Role: actorcontext.RoleClient}
	other   = actorcontext.Actor{ID: snowflake.ID(101), Role: actorcontext.RoleClient}
	writer  = actorcontext.Actor{ID: snowflake.ID(200), Role: actorcontext.RoleWriter}
	writer2 = actorcontext.Actor{ID: snowflake.ID(300), Role: actorcontext.RoleWriter}
	system  = actorcontext.System()
)

type allowAll struct{}

func (allowAll) Authorize(context.Context, actorcontext.Actor, string, string) error { return nil }

type denyAction struct{ action string }

func (d denyAction) Authorize(_ context.Context, _ actorcontext.Actor, _ string, action string) error {
	if action == d.action {
		return authorization.ErrForbidden
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingPublisher) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Name)
	}
	return out
}

func (r *recordingPublisher) last() realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	pub   *recordingPublisher
	clock *clock.FakeClock
}

func newFixture(t *testing.T, authz authorization.Service) fixture {
	t.Helper()
	db := testkit.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Authz:     authz,
		Publisher: pub,
		Clock:     clk,
	})
	return fixture{svc: svc, db: db, pub: pub, clock: clk}
}

func as(actor actorcontext.Actor) context.Context {
	return actorcontext.WithActor(context.Background(), actor)
}

func price(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func (f fixture) create(t *testing.T) domain.Assignment {
	t.Helper()
	a, err := f.svc.Create(as(client), domain.CreateRequest{Title: "Essay on tides", Attachments: []string{"brief.pdf", " "}})
	require.NoError(t, err)
	return a
}

func (f fixture) paid(t *testing.T) domain.Assignment {
	t.Helper()
	a := f.create(t)
	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(120))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(as(client), a.ID)
	require.NoError(t, err)
	res, err := f.svc.ConfirmPayment(as(system), a.ID, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceGateway, ReferenceID: "ord-1"})
	require.NoError(t, err)
	return res.Assignment
}

func (f fixture) completed(t *testing.T, w actorcontext.Actor) domain.Assignment {
	t.Helper()
	a := f.paid(t)
	_, err := f.svc.AssignWriter(as(admin), a.ID, domain.AssignWriterRequest{WriterID: w.ID, WriterPrice: price(80)})
	require.NoError(t, err)
	a, err = f.svc.UploadDeliverable(as(w), a.ID, []string{"final.docx"})
	require.NoError(t, err)
	return a
}

func TestBankPaymentLifecycle(t *testing.T) {
	f := newFixture(t, allowAll{})

	a := f.create(t)
	require.Equal(t, domain.StatusNew, a.Status)
	require.Equal(t, int64(1), a.Version)
	require.Equal(t, []string{"brief.pdf"}, []string(a.Attachments))

	a, err := f.svc.SetClientPrice(as(admin), a.ID, price(120))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPriceSet, a.Status)

	a, err = f.svc.AcceptPrice(as(client), a.ID)
	require.NoError(t, err)

	a, err = f.svc.SubmitPaymentProof(as(client), a.ID, domain.SubmitPaymentProofRequest{ProofRef: "proofs/slip.png"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaymentProofSubmitted, a.Status)
	require.Equal(t, domain.PaymentStatusProofSubmitted, a.PaymentStatus)

	res, err := f.svc.ConfirmPayment(as(admin), a.ID, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceAdmin})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, domain.StatusPaid, res.Assignment.Status)

	a, err = f.svc.AssignWriter(as(admin), a.ID, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(80)})
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, a.Status)
	commission, ok := a.Commission()
	require.True(t, ok)
	require.True(t, commission.Equal(price(40)))

	a, err = f.svc.UploadDeliverable(as(writer), a.ID, []string{"final.docx"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, a.Status)
	require.NotNil(t, a.CompletedAt)

	a, err = f.svc.ApproveWork(as(admin), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAdminApproved, a.Status)
	require.Equal(t, int64(8), a.Version)

	require.Equal(t, []string{
		"create", "set_client_price", "accept_price", "submit_payment_proof",
		"confirm_payment", "assign_writer", "upload_deliverable", "approve_work",
	}, f.pub.names())

	history, err := f.svc.History(as(admin), a.ID)
	require.NoError(t, err)
	require.Len(t, history, 8)
	require.Equal(t, domain.StatusPaymentProofSubmitted, history[4].FromStatus)
	require.Equal(t, domain.StatusPaid, history[4].ToStatus)
	require.Equal(t, "1", *history[4].ActorID)
}

func TestRejectedPriceCanBeRepriced(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.create(t)

	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(200))
	require.NoError(t, err)
	a, err = f.svc.RejectPrice(as(client), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPriceRejected, a.Status)

	a, err = f.svc.SetClientPrice(as(admin), a.ID, price(150))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPriceSet, a.Status)
	require.True(t, a.ClientPrice.Decimal.Equal(price(150)))

	_, err = f.svc.SetClientPrice(as(admin), a.ID, price(0))
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestGatewayConfirmationIsIdempotent(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.paid(t)
	require.Equal(t, domain.StatusPaid, a.Status)
	require.Equal(t, domain.PaymentMethodCard, *a.PaymentMethod)
	require.Equal(t, "ord-1", *a.PaymentReferenceID)
	published := len(f.pub.names())

	res, err := f.svc.ConfirmPayment(as(system), a.ID, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceGateway, ReferenceID: "ord-1"})
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, a.Version, res.Assignment.Version)
	require.Len(t, f.pub.names(), published)
}

func TestAdminCannotConfirmWithoutProof(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.create(t)
	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(50))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(as(client), a.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(as(admin), a.ID, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceAdmin})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	current, ok := domain.CurrentState(err)
	require.True(t, ok)
	require.Equal(t, string(domain.StatusPriceAccepted), current)
}

func TestRejectPaymentProofStartsNewCycle(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.create(t)
	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(50))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(as(client), a.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitPaymentProof(as(client), a.ID, domain.SubmitPaymentProofRequest{ProofRef: "slip-1"})
	require.NoError(t, err)

	_, err = f.svc.SetClientPrice(as(admin), a.ID, price(70))
	require.ErrorIs(t, err, domain.ErrPriceLocked)
	current, _ := domain.CurrentState(err)
	require.Equal(t, string(domain.StatusPaymentProofSubmitted), current)

	a, err = f.svc.RejectPaymentProof(as(admin), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPriceAccepted, a.Status)
	require.Nil(t, a.PaymentProof)
	require.Equal(t, domain.PaymentStatusUnpaid, a.PaymentStatus)

	a, err = f.svc.SubmitPaymentProof(as(client), a.ID, domain.SubmitPaymentProofRequest{ProofRef: "slip-2"})
	require.NoError(t, err)
	require.Equal(t, "slip-2", *a.PaymentProof)
}

func TestAssignWriterGuards(t *testing.T) {
	f := newFixture(t, allowAll{})
	fresh := f.create(t)

	_, err := f.svc.AssignWriter(as(admin), fresh.ID, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(10)})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	a := f.paid(t)
	_, err = f.svc.AssignWriter(as(admin), a.ID, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(0)})
	require.ErrorIs(t, err, domain.ErrInvalidWriterPrice)

	_, err = f.svc.AssignWriter(as(admin), a.ID, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(80)})
	require.NoError(t, err)

	_, err = f.svc.AssignWriter(as(admin), a.ID, domain.AssignWriterRequest{WriterID: writer2.ID, WriterPrice: price(80)})
	require.ErrorIs(t, err, domain.ErrAlreadyAssigned)

	_, err = f.svc.SetClientPrice(as(admin), a.ID, price(500))
	require.ErrorIs(t, err, domain.ErrAlreadyAssigned)
}

func TestReassignWriterNotifiesPreviousWriter(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.paid(t)
	_, err := f.svc.AssignWriter(as(admin), a.ID, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(80)})
	require.NoError(t, err)

	newPrice := price(90)
	a, err = f.svc.ReassignWriter(as(admin), a.ID, domain.ReassignWriterRequest{WriterID: writer2.ID, WriterPrice: &newPrice})
	require.NoError(t, err)
	require.Equal(t, writer2.ID, *a.WriterID)
	require.True(t, a.WriterPrice.Decimal.Equal(newPrice))

	evt := f.pub.last()
	require.Equal(t, "reassign_writer", evt.Name)
	require.ElementsMatch(t, []string{
		realtime.AdminRoom,
		realtime.UserRoom(client.ID),
		realtime.UserRoom(writer.ID),
		realtime.UserRoom(writer2.ID),
	}, evt.Rooms)
	require.ElementsMatch(t, []snowflake.ID{writer.ID, writer2.ID}, evt.LedgerWriters)

	_, err = f.svc.UploadDeliverable(as(writer), a.ID, []string{"late.docx"})
	require.ErrorIs(t, err, domain.ErrNotParty)
}

func TestReassignWriterKeepsRecordedPayout(t *testing.T) {
	f := newFixture(t, allowAll{})
	paidOut := f.completed(t, writer)
	reserved := f.completed(t, writer)

	_, err := f.svc.MarkPayoutPaid(as(admin), []snowflake.ID{paidOut.ID}, domain.PayoutReceipt{Proof: "payouts/bank.pdf"})
	require.NoError(t, err)
	_, err = f.svc.MarkPayoutPending(as(system), []snowflake.ID{reserved.ID}, "ord-payout")
	require.NoError(t, err)

	for _, id := range []snowflake.ID{paidOut.ID, reserved.ID} {
		_, err = f.svc.ApproveWork(as(admin), id)
		require.NoError(t, err)
		_, err = f.svc.RequestRevision(as(admin), id)
		require.NoError(t, err)

		_, err = f.svc.ReassignWriter(as(admin), id, domain.ReassignWriterRequest{WriterID: writer2.ID})
		require.ErrorIs(t, err, domain.ErrPayoutRecorded)

		got, err := f.svc.Get(as(admin), id)
		require.NoError(t, err)
		require.Equal(t, writer.ID, *got.WriterID)
		require.Equal(t, domain.StatusRevision, got.Status)
	}
}

func TestRevisionKeepsFirstCompletion(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.completed(t, writer)
	firstCompletion := *a.CompletedAt

	_, err := f.svc.ApproveWork(as(admin), a.ID)
	require.NoError(t, err)
	a, err = f.svc.RequestRevision(as(client), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRevision, a.Status)

	f.clock.Advance(72 * time.Hour)
	a, err = f.svc.UploadDeliverable(as(writer), a.ID, []string{"final-v2.docx"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, a.Status)
	require.True(t, firstCompletion.Equal(*a.CompletedAt))
	require.Equal(t, []string{"final.docx", "final-v2.docx"}, []string(a.CompletedFiles))

	_, err = f.svc.UploadDeliverable(as(writer), a.ID, nil)
	require.ErrorIs(t, err, domain.ErrFilesRequired)
}

func TestPartyChecks(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.create(t)
	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(40))
	require.NoError(t, err)

	_, err = f.svc.AcceptPrice(as(other), a.ID)
	require.ErrorIs(t, err, domain.ErrNotParty)

	_, err = f.svc.Get(as(other), a.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Get(as(client), a.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), a.ID)
	require.ErrorIs(t, err, authorization.ErrInvalidActor)
}

func TestForbiddenActionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, denyAction{action: authorization.ActionAssignmentApprove})
	a := f.completed(t, writer)

	_, err := f.svc.ApproveWork(as(client), a.ID)
	require.ErrorIs(t, err, authorization.ErrForbidden)

	got, err := f.svc.Get(as(admin), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.Equal(t, a.Version, got.Version)
}

func TestReportWorkflow(t *testing.T) {
	f := newFixture(t, allowAll{})
	unassigned := f.paid(t)
	_, err := f.svc.RequestReport(as(client), unassigned.ID)
	require.ErrorIs(t, err, domain.ErrWriterRequired)

	a := f.completed(t, writer)
	_, err = f.svc.ForwardReportToWriter(as(admin), a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	a, err = f.svc.RequestReport(as(client), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReportRequested, a.ReportStatus)
	a, err = f.svc.ForwardReportToWriter(as(admin), a.ID)
	require.NoError(t, err)
	a, err = f.svc.SubmitReport(as(writer), a.ID, "reports/similarity.pdf")
	require.NoError(t, err)
	require.Equal(t, "reports/similarity.pdf", *a.ReportFile)
	a, err = f.svc.ReleaseReportToClient(as(admin), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReportSentToUser, a.ReportStatus)
	require.Equal(t, domain.StatusCompleted, a.Status)

	_, err = f.svc.RequestReport(as(client), a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConcurrentGatewayConfirmationsApplyOnce(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.create(t)
	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(60))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(as(client), a.ID)
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ConfirmPayment(as(system), a.ID, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceGateway, ReferenceID: "ord-9"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Changed {
				changed++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, changed)
	got, err := f.svc.Get(as(admin), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, got.Status)
	require.Equal(t, int64(4), got.Version)
}

func TestAdminAndGatewayConfirmationRace(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.create(t)
	_, err := f.svc.SetClientPrice(as(admin), a.ID, price(60))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(as(client), a.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitPaymentProof(as(client), a.ID, domain.SubmitPaymentProofRequest{ProofRef: "proofs/slip.png"})
	require.NoError(t, err)

	requests := []struct {
		actor actorcontext.Actor
		req   domain.ConfirmPaymentRequest
	}{
		{admin, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceAdmin}},
		{system, domain.ConfirmPaymentRequest{Source: domain.PaymentSourceGateway, ReferenceID: "ord-race"}},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
		errs    []error
	)
	for _, r := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ConfirmPayment(as(r.actor), a.ID, r.req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Changed {
				changed++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, changed)
	got, err := f.svc.Get(as(admin), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, got.Status)
	require.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	require.Equal(t, int64(5), got.Version)
}

func TestListScopesToCaller(t *testing.T) {
	f := newFixture(t, allowAll{})
	for i := 0; i < 3; i++ {
		f.create(t)
	}
	_, err := f.svc.Create(as(other), domain.CreateRequest{Title: "Lab report"})
	require.NoError(t, err)

	first, err := f.svc.List(as(client), domain.ListRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Assignments, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := f.svc.List(as(client), domain.ListRequest{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Assignments, 1)
	require.False(t, second.HasMore)
	for _, page := range [][]domain.Assignment{first.Assignments, second.Assignments} {
		for _, a := range page {
			require.Equal(t, client.ID, a.ClientID)
		}
	}

	all, err := f.svc.List(as(admin), domain.ListRequest{Statuses: []domain.Status{domain.StatusNew}})
	require.NoError(t, err)
	require.Len(t, all.Assignments, 4)

	_, err = f.svc.List(as(admin), domain.ListRequest{Statuses: []domain.Status{"archived"}})
	require.ErrorIs(t, err, domain.ErrUnknownStatus)
}

func TestPayoutBatchLifecycle(t *testing.T) {
	f := newFixture(t, allowAll{})
	first := f.completed(t, writer)
	second := f.completed(t, writer)
	ids := []snowflake.ID{second.ID, first.ID}

	pending, err := f.svc.MarkPayoutPending(as(system), ids, "ord-payout")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, a := range pending {
		require.Equal(t, domain.PayoutStatusPending, a.PayoutStatus)
	}

	_, err = f.svc.MarkPayoutPending(as(system), ids, "ord-other")
	require.ErrorIs(t, err, domain.ErrPayoutAlreadyPending)

	_, err = f.svc.MarkPayoutPaid(as(system), ids, domain.PayoutReceipt{ReferenceID: "ord-wrong"})
	require.ErrorIs(t, err, domain.ErrPayoutReference)

	results, err := f.svc.MarkPayoutPaid(as(system), ids, domain.PayoutReceipt{ReferenceID: "ord-payout"})
	require.NoError(t, err)
	for _, res := range results {
		require.True(t, res.Changed)
		require.Equal(t, domain.PayoutStatusPaid, res.Assignment.PayoutStatus)
		require.NotNil(t, res.Assignment.PaidOutAt)
	}

	again, err := f.svc.MarkPayoutPaid(as(system), ids, domain.PayoutReceipt{ReferenceID: "ord-payout"})
	require.NoError(t, err)
	for _, res := range again {
		require.False(t, res.Changed)
	}

	_, err = f.svc.CancelPayout(as(admin), ids, "")
	require.ErrorIs(t, err, domain.ErrPayoutNotEligible)

	evt := f.pub.last()
	require.Equal(t, "mark_payout_paid", evt.Name)
	require.Equal(t, []snowflake.ID{writer.ID}, evt.LedgerWriters)
}

func TestPayoutBatchRollsBackOnIneligibleMember(t *testing.T) {
	f := newFixture(t, allowAll{})
	done := f.completed(t, writer)
	inProgress := f.paid(t)
	_, err := f.svc.AssignWriter(as(admin), inProgress.ID, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(80)})
	require.NoError(t, err)

	_, err = f.svc.MarkPayoutPaid(as(admin), []snowflake.ID{done.ID, inProgress.ID}, domain.PayoutReceipt{Proof: "payouts/bank.pdf"})
	require.ErrorIs(t, err, domain.ErrPayoutNotEligible)

	got, err := f.svc.Get(as(admin), done.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusNone, got.PayoutStatus)
	require.Equal(t, done.Version, got.Version)
}

func TestCancelPendingPayout(t *testing.T) {
	f := newFixture(t, allowAll{})
	a := f.completed(t, writer)
	_, err := f.svc.MarkPayoutPending(as(system), []snowflake.ID{a.ID}, "ord-7")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelPayout(as(admin), []snowflake.ID{a.ID}, "ord-7")
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusNone, cancelled[0].PayoutStatus)
	require.Nil(t, cancelled[0].PayoutReferenceID)

	snapshot, err := f.svc.LedgerSnapshot(context.Background(), domain.LedgerFilter{WriterID: &writer.ID})
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	writers, err := f.svc.WritersWithEarnings(context.Background())
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{writer.ID}, writers)
}

// Random action sequences must never commit a snapshot that breaks the
// pricing or writer rules.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	f := newFixture(t, allowAll{})
	rng := rand.New(rand.NewSource(42))

	type op func(id snowflake.ID) error
	ops := []op{
		func(id snowflake.ID) error {
			_, err := f.svc.SetClientPrice(as(admin), id, price(int64(rng.Intn(200)+1)))
			return err
		},
		func(id snowflake.ID) error { _, err := f.svc.AcceptPrice(as(client), id); return err },
		func(id snowflake.ID) error { _, err := f.svc.RejectPrice(as(client), id); return err },
		func(id snowflake.ID) error {
			_, err := f.svc.SubmitPaymentProof(as(client), id, domain.SubmitPaymentProofRequest{ProofRef: "slip"})
			return err
		},
		func(id snowflake.ID) error { _, err := f.svc.RejectPaymentProof(as(admin), id); return err },
		func(id snowflake.ID) error {
			source := domain.PaymentSourceAdmin
			if rng.Intn(2) == 0 {
				source = domain.PaymentSourceGateway
			}
			_, err := f.svc.ConfirmPayment(as(admin), id, domain.ConfirmPaymentRequest{Source: source})
			return err
		},
		func(id snowflake.ID) error {
			_, err := f.svc.AssignWriter(as(admin), id, domain.AssignWriterRequest{WriterID: writer.ID, WriterPrice: price(int64(rng.Intn(100) + 1))})
			return err
		},
		func(id snowflake.ID) error {
			_, err := f.svc.ReassignWriter(as(admin), id, domain.ReassignWriterRequest{WriterID: writer2.ID})
			return err
		},
		func(id snowflake.ID) error { _, err := f.svc.UploadDeliverable(as(admin), id, []string{"f"}); return err },
		func(id snowflake.ID) error { _, err := f.svc.ApproveWork(as(admin), id); return err },
		func(id snowflake.ID) error { _, err := f.svc.RequestRevision(as(admin), id); return err },
	}

	for run := 0; run < 20; run++ {
		a := f.create(t)
		for i := 0; i < 30; i++ {
			before, err := f.svc.Get(as(admin), a.ID)
			require.NoError(t, err)

			opErr := ops[rng.Intn(len(ops))](a.ID)

			after, err := f.svc.Get(as(admin), a.ID)
			require.NoError(t, err)
			require.NoError(t, after.CheckInvariants())
			if after.WriterPrice.Valid {
				require.True(t, after.ClientPrice.Valid)
			}
			if opErr != nil {
				require.Equal(t, before.Version, after.Version)
				require.False(t, errors.Is(opErr, domain.ErrConflict))
			} else {
				require.GreaterOrEqual(t, after.Version, before.Version)
			}
		}
	}
}
