package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/assignment"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	"github.com/smallbiznis/penwork/internal/audit"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/conversation"
	conversationdomain "github.com/smallbiznis/penwork/internal/conversation/domain"
	"github.com/smallbiznis/penwork/internal/observability"
	obsmiddleware "github.com/smallbiznis/penwork/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/penwork/internal/observability/metrics"
	obstracing "github.com/smallbiznis/penwork/internal/observability/tracing"
	"github.com/smallbiznis/penwork/internal/payment"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	"github.com/smallbiznis/penwork/internal/paysheet"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/smallbiznis/penwork/internal/providers/pdf"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	storage.Module,
	ratelimit.Module,
	realtime.Module,
	pdf.Module,
	assignment.Module,
	paysheet.Module,
	payment.Module,
	conversation.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	assignmentSvc   assignmentdomain.Service
	paymentSvc      paymentdomain.Service
	paysheetSvc     paysheetdomain.Service
	conversationSvc conversationdomain.Service
	store           storage.Store
	hub             *realtime.Hub
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	AssignmentSvc   assignmentdomain.Service
	PaymentSvc      paymentdomain.Service
	PaysheetSvc     paysheetdomain.Service
	ConversationSvc conversationdomain.Service
	Store           storage.Store
	Hub             *realtime.Hub
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		assignmentSvc:   p.AssignmentSvc,
		paymentSvc:      p.PaymentSvc,
		paysheetSvc:     p.PaysheetSvc,
		conversationSvc: p.ConversationSvc,
		store:           p.Store,
		hub:             p.Hub,
	}

	svc.registerAPIRoutes()
	svc.registerEventRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// Server-to-server; authenticity comes from the gateway signature.
	api.POST("/payments/gateway/notify", s.HandleGatewayNotification)

	authed := api.Group("", s.AuthRequired())

	// -------- Assignments --------
	authed.POST("/assignments", RequireRole(actorcontext.RoleClient), s.CreateAssignment)
	authed.GET("/assignments", s.ListAssignments)
	authed.GET("/assignments/:id", s.GetAssignment)
	authed.GET("/assignments/:id/history", s.GetAssignmentHistory)
	authed.PUT("/assignments/:id/price", s.SetAssignmentPrice)
	authed.PUT("/assignments/:id/price/accept", s.AcceptAssignmentPrice)
	authed.PUT("/assignments/:id/price/reject", s.RejectAssignmentPrice)
	authed.PUT("/assignments/:id/payment/proof", s.SubmitPaymentProof)
	authed.PUT("/assignments/:id/payment/proof/reject", s.RejectPaymentProof)
	authed.PUT("/assignments/:id/payment/confirm", s.ConfirmPayment)
	authed.PUT("/assignments/:id/writer", s.AssignWriter)
	authed.PUT("/assignments/:id/writer/reassign", s.ReassignWriter)
	authed.PUT("/assignments/:id/deliverable", s.UploadDeliverable)
	authed.PUT("/assignments/:id/approve", s.ApproveWork)
	authed.PUT("/assignments/:id/revision", s.RequestRevision)

	// -------- Reports --------
	authed.PUT("/assignments/:id/report/request", s.RequestReport)
	authed.PUT("/assignments/:id/report/forward", s.ForwardReport)
	authed.PUT("/assignments/:id/report/release", s.ReleaseReport)
	authed.PUT("/assignments/:id/report", s.SubmitReport)

	// -------- Payments --------
	authed.POST("/payments/gateway/sessions", s.CreateGatewaySession)
	authed.GET("/payments/orders/:order_id", s.GetPaymentOrder)
	authed.PUT("/payments/orders/:order_id/cancel", s.CancelPaymentOrder)

	// -------- Paysheets --------
	authed.GET("/paysheets", s.ListPaysheets)
	authed.GET("/paysheets/writers/:writer_id", s.GetWriterPaysheets)
	authed.GET("/paysheets/:paysheet_id/statement.pdf", s.DownloadPaysheetStatement)
	authed.PUT("/paysheets/:paysheet_id/pay", s.PayPaysheet)
	authed.PUT("/paysheets/:paysheet_id/cancel", s.CancelPaysheetPayout)
	authed.PUT("/paysheets/assignments/:id/pay", s.PayAssignmentPayout)

	// -------- Conversations --------
	authed.POST("/conversations/messages", s.SendMessage)
	authed.GET("/conversations/unread", s.UnreadCounts)
	authed.GET("/conversations/:id/messages", s.ListMessages)
	authed.PUT("/conversations/:id/read", s.MarkConversationRead)

	// -------- Audit --------
	authed.GET("/audit_logs", RequireRole(actorcontext.RoleAdmin), s.ListAuditLogs)
}

func (s *Server) registerEventRoutes() {
	events := s.engine.Group("/events", s.StreamAuthRequired())
	events.GET("/stream", s.StreamEvents)
	events.GET("/ws", s.ServeEventsWebSocket)
}
