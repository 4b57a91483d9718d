package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const individualPrefix = "assignment-"

// Key identifies a paysheet: a writer's month, or a single assignment.
type Key struct {
	WriterID     snowflake.ID
	Period       string
	AssignmentID snowflake.ID
}

func (k Key) Individual() bool { return k.AssignmentID != 0 }

func PeriodID(writerID snowflake.ID, period string) string {
	return writerID.String() + "_" + period
}

func IndividualID(assignmentID snowflake.ID) string {
	return individualPrefix + assignmentID.String()
}

// ParseID accepts "<writer>_<YYYY-MM>" and "assignment-<id>".
func ParseID(raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, individualPrefix); ok {
		id, err := snowflake.ParseString(rest)
		if err != nil || id == 0 {
			return Key{}, ErrInvalidPaysheetID
		}
		return Key{AssignmentID: id}, nil
	}

	writerPart, period, ok := strings.Cut(raw, "_")
	if !ok {
		return Key{}, ErrInvalidPaysheetID
	}
	writerID, err := snowflake.ParseString(writerPart)
	if err != nil || writerID == 0 {
		return Key{}, ErrInvalidPaysheetID
	}
	if _, err := time.Parse(PeriodLayout, period); err != nil {
		return Key{}, ErrInvalidPaysheetID
	}
	return Key{WriterID: writerID, Period: period}, nil
}
