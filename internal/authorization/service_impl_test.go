package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingAudit struct {
	actions []string
}

func (r *recordingAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.actions = append(r.actions, action)
	return nil
}

func (r *recordingAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T) (Service, *recordingAudit) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	audit := &recordingAudit{}
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit})
	return svc, audit
}

func TestAuthorizeRoleMatrix(t *testing.T) {
	svc, audit := newTestService(t)
	ctx := context.Background()

	admin := actorcontext.Actor{ID: snowflake.ID(1), Role: actorcontext.RoleAdmin}
	client := actorcontext.Actor{ID: snowflake.ID(2), Role: actorcontext.RoleClient}
	writer := actorcontext.Actor{ID: snowflake.ID(3), Role: actorcontext.RoleWriter}

	cases := []struct {
		name   string
		actor  actorcontext.Actor
		object string
		action string
		want   error
	}{
		{"admin sets price", admin, ObjectAssignment, ActionAssignmentSetPrice, nil},
		{"client cannot set price", client, ObjectAssignment, ActionAssignmentSetPrice, ErrForbidden},
		{"client accepts price", client, ObjectAssignment, ActionAssignmentRespondPrice, nil},
		{"writer delivers", writer, ObjectAssignment, ActionAssignmentDeliver, nil},
		{"writer cannot confirm payment", writer, ObjectAssignment, ActionAssignmentConfirmPay, ErrForbidden},
		{"system confirms payment", actorcontext.System(), ObjectAssignment, ActionAssignmentConfirmPay, nil},
		{"client cannot pay paysheet", client, ObjectPaysheet, ActionPaysheetPay, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if len(audit.actions) != 3 {
		t.Fatalf("expected 3 denials audited, got %d", len(audit.actions))
	}
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id := snowflake.ID(77)
	if err := svc.Authorize(ctx, actorcontext.Actor{ID: id, Role: actorcontext.RoleAdmin}, ObjectPaysheet, ActionPaysheetPay); err != nil {
		t.Fatalf("expected admin allowed: %v", err)
	}
	err := svc.Authorize(ctx, actorcontext.Actor{ID: id, Role: actorcontext.RoleWriter}, ObjectPaysheet, ActionPaysheetPay)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected stale admin link to be replaced, got %v", err)
	}
}

func TestAuthorizeRejectsAnonymous(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Authorize(context.Background(), actorcontext.Actor{Role: actorcontext.RoleClient}, ObjectAssignment, ActionAssignmentView)
	if !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
}

func TestAuthorizeFailsWhenStaleRoleLinkCannotBeRemoved(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
	ctx := context.Background()

	id := snowflake.ID(78)
	if err := svc.Authorize(ctx, actorcontext.Actor{ID: id, Role: actorcontext.RoleAdmin}, ObjectPaysheet, ActionPaysheetPay); err != nil {
		t.Fatalf("expected admin allowed: %v", err)
	}
	if err := db.Migrator().DropTable("casbin_rule"); err != nil {
		t.Fatalf("drop policy table: %v", err)
	}

	err = svc.Authorize(ctx, actorcontext.Actor{ID: id, Role: actorcontext.RoleWriter}, ObjectAssignment, ActionAssignmentView)
	if err == nil {
		t.Fatal("expected the failed role link removal to surface")
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatalf("expected a storage error, got %v", err)
	}
}
