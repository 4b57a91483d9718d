package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads the policy from the casbin_rule table and seeds the role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error {
	if actor.Role == "" || (!actor.IsSystem() && actor.ID == 0) {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := actor.Subject()
	if err := s.ensureGrouping(subject, roleSubject(actor.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject; the role claim
// in the token is authoritative and may change between sessions.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			s.log.Warn("failed to drop stale role link",
				zap.String("subject", subject),
				zap.String("role", rule[1]),
				zap.Error(err),
			)
			return fmt.Errorf("remove role link %s -> %s: %w", subject, rule[1], err)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor actorcontext.Actor, object string, action string) {
	s.log.Info("authorization denied",
		zap.String("subject", actor.Subject()),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeUser)
	var actorID *string
	if actor.IsSystem() {
		actorType = string(auditdomain.ActorTypeSystem)
	} else {
		id := actor.ID.String()
		actorID = &id
	}
	targetID := object
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, auditdomain.ActionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   string(actor.Role),
	})
}

func roleSubject(role actorcontext.Role) string {
	return "role:" + string(role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	admin := roleSubject(actorcontext.RoleAdmin)
	writer := roleSubject(actorcontext.RoleWriter)
	client := roleSubject(actorcontext.RoleClient)
	system := roleSubject(actorcontext.RoleSystem)

	policies := [][]string{
		// Client
		{client, ObjectAssignment, ActionAssignmentCreate},
		{client, ObjectAssignment, ActionAssignmentView},
		{client, ObjectAssignment, ActionAssignmentRespondPrice},
		{client, ObjectAssignment, ActionAssignmentSubmitProof},
		{client, ObjectAssignment, ActionAssignmentRevision},
		{client, ObjectReport, ActionReportRequest},
		{client, ObjectPayment, ActionPaymentCreateSession},
		{client, ObjectConversation, ActionConversationSend},
		{client, ObjectConversation, ActionConversationRead},

		// Writer
		{writer, ObjectAssignment, ActionAssignmentView},
		{writer, ObjectAssignment, ActionAssignmentDeliver},
		{writer, ObjectReport, ActionReportSubmit},
		{writer, ObjectPaysheet, ActionPaysheetView},
		{writer, ObjectConversation, ActionConversationSend},
		{writer, ObjectConversation, ActionConversationRead},

		// Admin
		{admin, ObjectAssignment, ActionAssignmentView},
		{admin, ObjectAssignment, ActionAssignmentHistory},
		{admin, ObjectAssignment, ActionAssignmentSetPrice},
		{admin, ObjectAssignment, ActionAssignmentRejectProof},
		{admin, ObjectAssignment, ActionAssignmentConfirmPay},
		{admin, ObjectAssignment, ActionAssignmentAssignWriter},
		{admin, ObjectAssignment, ActionAssignmentApprove},
		{admin, ObjectAssignment, ActionAssignmentRevision},
		{admin, ObjectAssignment, ActionAssignmentPayoutManage},
		{admin, ObjectReport, ActionReportRequest},
		{admin, ObjectReport, ActionReportForward},
		{admin, ObjectReport, ActionReportRelease},
		{admin, ObjectPayment, ActionPaymentCreateSession},
		{admin, ObjectPayment, ActionPaymentView},
		{admin, ObjectPayment, ActionPaymentCancel},
		{admin, ObjectPaysheet, ActionPaysheetView},
		{admin, ObjectPaysheet, ActionPaysheetPay},
		{admin, ObjectConversation, ActionConversationSend},
		{admin, ObjectConversation, ActionConversationRead},
		{admin, ObjectAuditLog, ActionAuditLogView},

		// System: gateway callbacks and background jobs
		{system, ObjectAssignment, ActionAssignmentView},
		{system, ObjectAssignment, ActionAssignmentConfirmPay},
		{system, ObjectAssignment, ActionAssignmentPayoutManage},
		{system, ObjectPaysheet, ActionPaysheetView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
