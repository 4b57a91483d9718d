package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/penwork/internal/actorcontext"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	ObjectAssignment   = "assignment"
	ObjectReport       = "report"
	ObjectPayment      = "payment"
	ObjectPaysheet     = "paysheet"
	ObjectConversation = "conversation"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionAssignmentCreate       = "assignment.create"
	ActionAssignmentView         = "assignment.view"
	ActionAssignmentHistory      = "assignment.history"
	ActionAssignmentSetPrice     = "assignment.set_price"
	ActionAssignmentRespondPrice = "assignment.respond_price"
	ActionAssignmentSubmitProof  = "assignment.submit_payment_proof"
	ActionAssignmentRejectProof  = "assignment.reject_payment_proof"
	ActionAssignmentConfirmPay   = "assignment.confirm_payment"
	ActionAssignmentAssignWriter = "assignment.assign_writer"
	ActionAssignmentDeliver      = "assignment.upload_deliverable"
	ActionAssignmentApprove      = "assignment.approve"
	ActionAssignmentRevision     = "assignment.request_revision"
	ActionAssignmentPayoutManage = "assignment.payout"

	ActionReportRequest = "report.request"
	ActionReportForward = "report.forward"
	ActionReportSubmit  = "report.submit"
	ActionReportRelease = "report.release"

	ActionPaymentCreateSession = "payment.create_session"
	ActionPaymentView          = "payment.view"
	ActionPaymentCancel        = "payment.cancel"

	ActionPaysheetView = "paysheet.view"
	ActionPaysheetPay  = "paysheet.pay"

	ActionConversationSend = "conversation.send"
	ActionConversationRead = "conversation.read"

	ActionAuditLogView = "audit_log.view"
)

// Service answers capability questions for an actor. Party ownership
// (which client or writer an assignment belongs to) is checked by callers.
type Service interface {
	Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error
}
