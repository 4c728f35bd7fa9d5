package domain

import "time"

type Verdict string

const (
	VerdictAccept Verdict = "ACCEPT"
	VerdictReject Verdict = "REJECT"
	VerdictError  Verdict = "ERROR"
)

// Accepted reports whether the verdict should raise the pass signal.
func (v Verdict) Accepted() bool {
	return v == VerdictAccept
}

// Inspection is the outcome of evaluating one camera frame.
type Inspection struct {
	ID            int64
	CorrelationID string
	FileName      string
	Path          string
	Verdict       Verdict
	Reason        string
	Confidence    int
	Strictness    int
	NoBrand       bool
	Model         string
	RawResponse   string
	ErrorMessage  string
	S3Location    string
	ResultPath    string
	CreatedAt     time.Time
	InspectedAt   time.Time
}

// Stats aggregates persisted inspections by verdict.
type Stats struct {
	Total    int64
	Accepted int64
	Rejected int64
	Errored  int64
}
