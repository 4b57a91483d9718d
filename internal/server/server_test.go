package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	assignmentrepo "github.com/smallbiznis/penwork/internal/assignment/repository"
	assignmentservice "github.com/smallbiznis/penwork/internal/assignment/service"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	auditrepo "github.com/smallbiznis/penwork/internal/audit/repository"
	auditservice "github.com/smallbiznis/penwork/internal/audit/service"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/cache"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	conversationrepo "github.com/smallbiznis/penwork/internal/conversation/repository"
	conversationservice "github.com/smallbiznis/penwork/internal/conversation/service"
	"github.com/smallbiznis/penwork/internal/observability"
	"github.com/smallbiznis/penwork/internal/payment/adapters"
	"github.com/smallbiznis/penwork/internal/payment/adapters/payhere"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/penwork/internal/payment/repository"
	paymentservice "github.com/smallbiznis/penwork/internal/payment/service"
	paysheetservice "github.com/smallbiznis/penwork/internal/paysheet/service"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/internal/storage"
	"github.com/smallbiznis/penwork/internal/testkit"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret     = "test-secret"
	testMerchantID = "1211149"
	testMerchantSK = "sandbox-secret"
)

var (
	admin  = actorcontext.Actor{ID: snowflake.ID(1), Role: actorcontext.RoleAdmin}
	client = actorcontext.Actor{ID: snowflake.ID(100), Role: actorcontext.RoleClient}
	writer = actorcontext.Actor{ID: snowflake.ID(200), Role: actorcontext.RoleWriter}
)

// hubPublisher delivers synchronously so tests observe events without a bus.
type hubPublisher struct {
	hub *realtime.Hub
}

func (p hubPublisher) Publish(_ context.Context, evt realtime.Event) {
	p.hub.Deliver(evt)
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, string, io.Reader) (string, error) {
	return "", storage.ErrStorageUnavailable
}

func (failingStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrFileNotFound
}

type testEnv struct {
	router *gin.Engine
	hub    *realtime.Hub
}

func newTestEnv(t *testing.T, store storage.Store) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testkit.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	if store == nil {
		store = storage.NewFileStore(afero.NewMemMapFs(), zap.NewNop())
	}
	cfg := config.Config{
		AppName:        "penwork",
		AuthJWTSecret:  testSecret,
		SupportAdminID: int64(admin.ID),
		Gateway: config.GatewayConfig{
			Provider:       payhere.ProviderName,
			MerchantID:     testMerchantID,
			MerchantSecret: testMerchantSK,
			Currency:       "LKR",
			NotifyURL:      "https://api.example.test/api/payments/gateway/notify",
		},
	}

	policyDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(policyDB)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: clk,
	})
	hub := realtime.NewHub(16)
	pub := hubPublisher{hub: hub}

	assignments := assignmentservice.New(assignmentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      assignmentrepo.Provide(),
		Authz:     authz,
		Publisher: pub,
		Clock:     clk,
	})
	paysheets := paysheetservice.New(paysheetservice.Params{
		Log:         zap.NewNop(),
		Assignments: assignments,
		Authz:       authz,
		Cache:       cache.NewPaysheetCache(nil),
		Storage:     store,
		Ledger:      config.NewStaticLedgerConfigHolder(config.DefaultLedgerConfig()),
		Config:      cfg,
		Publisher:   pub,
		AuditSvc:    auditSvc,
		Clock:       clk,
	})
	payments, err := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Config:      cfg,
		Repo:        paymentrepo.Provide(),
		Registry:    adapters.NewRegistry(payhere.NewFactory()),
		Assignments: assignments,
		Paysheets:   paysheets,
		Authz:       authz,
		Storage:     store,
		AuditSvc:    auditSvc,
		Clock:       clk,
	})
	require.NoError(t, err)
	conversations := conversationservice.New(conversationservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Config:      cfg,
		Repo:        conversationrepo.Provide(),
		Authz:       authz,
		Assignments: assignments,
		Publisher:   pub,
		Clock:       clk,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		Log:             zap.NewNop(),
		AuthzSvc:        authz,
		AuditSvc:        auditSvc,
		AssignmentSvc:   assignments,
		PaymentSvc:      payments,
		PaysheetSvc:     paysheets,
		ConversationSvc: conversations,
		Store:           store,
		Hub:             hub,
	})
	return testEnv{router: engine, hub: hub}
}

func token(t *testing.T, actor actorcontext.Actor) string {
	t.Helper()
	signed, err := SignToken(testSecret, actor, time.Now(), time.Hour)
	require.NoError(t, err)
	return signed
}

type apiResponse struct {
	Data    json.RawMessage `json:"data"`
	Changed bool            `json:"changed"`
	Error   errorPayload    `json:"error"`
}

func (e testEnv) call(t *testing.T, actor *actorcontext.Actor, method, path, contentType string, body io.Reader) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *actor))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func (e testEnv) json(t *testing.T, actor actorcontext.Actor, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return e.call(t, &actor, method, path, "application/json", reader)
}

func (e testEnv) upload(t *testing.T, actor actorcontext.Actor, path, field string, fields map[string]string, names ...string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, mw.WriteField(key, value))
	}
	for _, name := range names {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte("contents of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return e.call(t, &actor, http.MethodPut, path, mw.FormDataContentType(), &buf)
}

func decodeAssignment(t *testing.T, resp apiResponse) assignmentdomain.Assignment {
	t.Helper()
	var a assignmentdomain.Assignment
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	return a
}

func (e testEnv) acceptedAssignment(t *testing.T) assignmentdomain.Assignment {
	t.Helper()
	rec, resp := e.json(t, client, http.MethodPost, "/api/assignments", `{"title":"Literature review","description":"12 pages"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeAssignment(t, resp)
	require.Equal(t, assignmentdomain.StatusNew, a.Status)

	rec, _ = e.json(t, admin, http.MethodPut, "/api/assignments/"+a.ID.String()+"/price", `{"amount":"1000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, resp = e.json(t, client, http.MethodPut, "/api/assignments/"+a.ID.String()+"/price/accept", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAssignment(t, resp)
}

func TestRequestsWithoutValidTokenAreRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.call(t, nil, http.MethodGet, "/api/assignments", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", resp.Error.Type)

	req := httptest.NewRequest(http.MethodGet, "/api/assignments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	system, err := SignToken(testSecret, actorcontext.Actor{ID: 9, Role: actorcontext.RoleSystem}, time.Now(), time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/assignments", nil)
	req.Header.Set("Authorization", "Bearer "+system)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := SignToken("other-secret", client, time.Now(), time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/assignments", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAssignmentLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.acceptedAssignment(t)
	base := "/api/assignments/" + a.ID.String()

	rec, resp := env.upload(t, client, base+"/payment/proof", "file", map[string]string{"method": "bank"}, "slip.png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, assignmentdomain.StatusPaymentProofSubmitted, decodeAssignment(t, resp).Status)

	rec, resp = env.json(t, admin, http.MethodPut, base+"/payment/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, resp.Changed)
	require.Equal(t, assignmentdomain.StatusPaid, decodeAssignment(t, resp).Status)

	rec, resp = env.json(t, admin, http.MethodPut, base+"/payment/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.False(t, resp.Changed)

	rec, resp = env.json(t, admin, http.MethodPut, base+"/writer", `{"writer_id":"200","writer_price":600}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decodeAssignment(t, resp)
	require.Equal(t, assignmentdomain.StatusInProgress, assigned.Status)
	require.Equal(t, writer.ID, *assigned.WriterID)

	rec, resp = env.upload(t, writer, base+"/deliverable", "files", nil, "draft.docx", "sources.pdf")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeAssignment(t, resp)
	require.Equal(t, assignmentdomain.StatusCompleted, done.Status)
	require.Len(t, done.CompletedFiles, 2)

	rec, resp = env.json(t, writer, http.MethodGet, "/api/assignments", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listed []assignmentdomain.Assignment
	require.NoError(t, json.Unmarshal(resp.Data, &listed))
	require.Len(t, listed, 1)
	require.Equal(t, a.ID, listed[0].ID)

	rec, resp = env.json(t, admin, http.MethodGet, base+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history []assignmentdomain.Transition
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	require.NotEmpty(t, history)
}

func TestInvalidTransitionReturnsActionAndCurrentState(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, resp := env.json(t, client, http.MethodPost, "/api/assignments", `{"title":"Case study"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeAssignment(t, resp)

	rec, resp = env.json(t, client, http.MethodPut, "/api/assignments/"+a.ID.String()+"/price/accept", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Equal(t, "invalid_transition", resp.Error.Type)
	require.Equal(t, string(assignmentdomain.ActionAcceptPrice), resp.Error.Action)
	require.Equal(t, string(assignmentdomain.StatusNew), resp.Error.Current)
}

func TestRoleWithoutCapabilityIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, resp := env.json(t, client, http.MethodPost, "/api/assignments", `{"title":"Lab report"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeAssignment(t, resp)

	rec, resp = env.json(t, writer, http.MethodPut, "/api/assignments/"+a.ID.String()+"/price", `{"amount":"10"}`)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	require.Equal(t, "forbidden", resp.Error.Type)

	rec, _ = env.json(t, writer, http.MethodPost, "/api/assignments", `{"title":"Not mine"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.json(t, client, http.MethodGet, "/api/audit_logs", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecondAssignmentConflictsWithCurrentState(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.acceptedAssignment(t)
	base := "/api/assignments/" + a.ID.String()

	rec, _ := env.upload(t, client, base+"/payment/proof", "file", nil, "slip.png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = env.json(t, admin, http.MethodPut, base+"/payment/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = env.json(t, admin, http.MethodPut, base+"/writer", `{"writer_id":"200","writer_price":"600"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp := env.json(t, admin, http.MethodPut, base+"/writer", `{"writer_id":"300","writer_price":"500"}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, assignmentdomain.ErrAlreadyAssigned.Error(), resp.Error.Code)
	require.Equal(t, string(assignmentdomain.StatusInProgress), resp.Error.Current)
}

func TestValidationErrorsReturn400(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.json(t, client, http.MethodPost, "/api/assignments", `{"title":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Equal(t, "validation_error", resp.Error.Type)
	require.Equal(t, assignmentdomain.ErrInvalidTitle.Error(), resp.Error.Errors[0].Code)

	rec, _ = env.json(t, admin, http.MethodGet, "/api/assignments/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.json(t, admin, http.MethodGet, "/api/assignments?status=archived", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.json(t, admin, http.MethodGet, "/api/assignments/12345", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	a := env.acceptedAssignment(t)
	rec, _ = env.upload(t, client, "/api/assignments/"+a.ID.String()+"/payment/proof", "file", map[string]string{"method": "card"}, "slip.png")
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec, _ = env.upload(t, client, "/api/assignments/"+a.ID.String()+"/payment/proof", "file", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestStorageOutageAsksClientToRetry(t *testing.T) {
	env := newTestEnv(t, failingStore{})
	a := env.acceptedAssignment(t)

	rec, resp := env.upload(t, client, "/api/assignments/"+a.ID.String()+"/payment/proof", "file", nil, "slip.png")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.Equal(t, storage.ErrStorageUnavailable.Error(), resp.Error.Code)

	rec, resp = env.json(t, client, http.MethodGet, "/api/assignments/"+a.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, assignmentdomain.StatusPriceAccepted, decodeAssignment(t, resp).Status)
}

func gatewayForm(session paymentdomain.Session, status string, secret string) url.Values {
	form := url.Values{}
	form.Set("merchant_id", session.MerchantID)
	form.Set("order_id", session.OrderID)
	form.Set("payment_id", "pay-"+session.OrderID)
	form.Set("payhere_amount", session.Amount)
	form.Set("payhere_currency", session.Currency)
	form.Set("status_code", status)
	form.Set("md5sig", payhere.NotificationSignature(session.MerchantID, session.OrderID, session.Amount, session.Currency, status, secret))
	return form
}

func (e testEnv) notify(t *testing.T, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/payments/gateway/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestGatewayNotificationSettlesOnceAndRejectsForgery(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.acceptedAssignment(t)

	rec, resp := env.json(t, client, http.MethodPost, "/api/payments/gateway/sessions", `{"assignment_id":"`+a.ID.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session paymentdomain.Session
	require.NoError(t, json.Unmarshal(resp.Data, &session))
	require.Equal(t, testMerchantID, session.MerchantID)

	rec, body := env.notify(t, gatewayForm(session, payhere.StatusSuccess, "wrong-secret"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_signature", body["error"].(map[string]any)["type"])

	rec, body = env.notify(t, gatewayForm(session, payhere.StatusSuccess, testMerchantSK))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["applied"])

	rec, body = env.notify(t, gatewayForm(session, payhere.StatusSuccess, testMerchantSK))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["duplicate"])
	require.Equal(t, false, body["applied"])

	rec, resp = env.json(t, client, http.MethodGet, "/api/assignments/"+a.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decodeAssignment(t, resp)
	require.Equal(t, assignmentdomain.StatusPaid, paid.Status)
	require.Equal(t, assignmentdomain.PaymentMethodCard, *paid.PaymentMethod)

	rec, resp = env.json(t, admin, http.MethodGet, "/api/payments/orders/"+session.OrderID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var order paymentdomain.PaymentOrder
	require.NoError(t, json.Unmarshal(resp.Data, &order))
	require.Equal(t, paymentdomain.OrderStatusPaid, order.Status)

	rec, resp = env.json(t, admin, http.MethodGet, "/api/audit_logs?action="+auditdomain.ActionPaymentSignatureFailed, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &logs))
	require.Len(t, logs, 1)
}

func TestPaysheetRoutesFollowPayout(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.acceptedAssignment(t)
	base := "/api/assignments/" + a.ID.String()

	rec, _ := env.upload(t, client, base+"/payment/proof", "file", nil, "slip.png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = env.json(t, admin, http.MethodPut, base+"/payment/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = env.json(t, admin, http.MethodPut, base+"/writer", `{"writer_id":"200","writer_price":"600"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = env.upload(t, writer, base+"/deliverable", "files", nil, "final.docx")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp := env.json(t, admin, http.MethodGet, "/api/paysheets?status=due", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sheets []struct {
		WriterID      snowflake.ID `json:"writer_id"`
		MonthlyTotals []struct {
			ID        string `json:"id"`
			DueAmount string `json:"due_amount"`
		} `json:"monthly_totals"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &sheets))
	require.Len(t, sheets, 1)
	require.Equal(t, writer.ID, sheets[0].WriterID)
	require.Len(t, sheets[0].MonthlyTotals, 1)
	paysheetID := sheets[0].MonthlyTotals[0].ID
	require.Equal(t, "600", sheets[0].MonthlyTotals[0].DueAmount)

	rec, _ = env.json(t, writer, http.MethodGet, "/api/paysheets/writers/300", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.upload(t, writer, "/api/paysheets/"+paysheetID+"/pay", "file", nil, "transfer.pdf")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.upload(t, admin, "/api/paysheets/"+paysheetID+"/pay", "file", nil, "transfer.pdf")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = env.upload(t, admin, "/api/paysheets/"+paysheetID+"/pay", "file", nil, "transfer.pdf")
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec, _ = env.json(t, writer, http.MethodGet, "/api/paysheets/"+paysheetID+"/statement.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestSupportConversationUnreadFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.json(t, client, http.MethodPost, "/api/conversations/messages", `{"client_id":"100","body":"Where is my draft?"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg struct {
		ConversationID snowflake.ID `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &msg))

	rec, resp = env.json(t, admin, http.MethodGet, "/api/conversations/unread", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	require.Equal(t, 1, summary.Total)

	rec, _ = env.json(t, writer, http.MethodGet, "/api/conversations/"+msg.ConversationID.String()+"/messages", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = env.json(t, admin, http.MethodPut, "/api/conversations/"+msg.ConversationID.String()+"/read", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var count struct {
		UnreadCount int `json:"unread_count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &count))
	require.Zero(t, count.UnreadCount)

	rec, _ = env.json(t, client, http.MethodPost, "/api/conversations/messages", `{"client_id":"100","body":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewEngine(observability.Config{Environment: "test"}, nil)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
