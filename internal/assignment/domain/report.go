package domain

import "fmt"

// ReportStatus tracks the plagiarism report side workflow. It only moves forward.
type ReportStatus string

const (
	ReportNone            ReportStatus = "none"
	ReportRequested       ReportStatus = "requested"
	ReportSentToWriter    ReportStatus = "sent_to_writer"
	ReportWriterSubmitted ReportStatus = "writer_submitted"
	ReportSentToUser      ReportStatus = "sent_to_user"
)

type ReportVisitor[T any] interface {
	VisitNone() (T, error)
	VisitRequested() (T, error)
	VisitSentToWriter() (T, error)
	VisitWriterSubmitted() (T, error)
	VisitSentToUser() (T, error)
}

func VisitReportStatus[T any](s ReportStatus, v ReportVisitor[T]) (T, error) {
	switch s {
	case ReportNone, "":
		return v.VisitNone()
	case ReportRequested:
		return v.VisitRequested()
	case ReportSentToWriter:
		return v.VisitSentToWriter()
	case ReportWriterSubmitted:
		return v.VisitWriterSubmitted()
	case ReportSentToUser:
		return v.VisitSentToUser()
	default:
		var zero T
		return zero, fmt.Errorf("%w: report %q", ErrUnknownStatus, string(s))
	}
}

type reportEdge struct {
	action Action
	next   ReportStatus
}

type reportTable struct{}

func (reportTable) VisitNone() (reportEdge, error) {
	return reportEdge{ActionRequestReport, ReportRequested}, nil
}
func (reportTable) VisitRequested() (reportEdge, error) {
	return reportEdge{ActionForwardReport, ReportSentToWriter}, nil
}
func (reportTable) VisitSentToWriter() (reportEdge, error) {
	return reportEdge{ActionSubmitReport, ReportWriterSubmitted}, nil
}
func (reportTable) VisitWriterSubmitted() (reportEdge, error) {
	return reportEdge{ActionReleaseReport, ReportSentToUser}, nil
}

// sent_to_user is terminal.
func (reportTable) VisitSentToUser() (reportEdge, error) {
	return reportEdge{}, nil
}

// NextReportStatus resolves the report status reached by action.
func NextReportStatus(current ReportStatus, action Action) (ReportStatus, error) {
	edge, err := VisitReportStatus[reportEdge](current, reportTable{})
	if err != nil {
		return "", err
	}
	if edge.action == "" || edge.action != action {
		return "", &TransitionError{Action: action, Current: string(current)}
	}
	return edge.next, nil
}
