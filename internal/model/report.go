package model

import "go.uber.org/zap/zapcore"

// BatchReport aggregates per-record outcomes of one phase run.
type BatchReport struct {
	Phase      string   `json:"phase"`
	Total      int      `json:"total"`
	Accepted   int      `json:"accepted"`
	Rejected   int      `json:"rejected"`
	Unresolved int      `json:"unresolved"`
	Skipped    int      `json:"skipped"`
	Duplicates int      `json:"duplicates,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// maxReportErrors caps the error samples kept on a report.
const maxReportErrors = 20

// AddError records a rejected or unresolved unit's error sample.
func (r *BatchReport) AddError(err error) {
	if err == nil || len(r.Errors) >= maxReportErrors {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// Merge folds another report's counts into r.
func (r *BatchReport) Merge(o BatchReport) {
	r.Total += o.Total
	r.Accepted += o.Accepted
	r.Rejected += o.Rejected
	r.Unresolved += o.Unresolved
	r.Skipped += o.Skipped
	r.Duplicates += o.Duplicates
	for _, e := range o.Errors {
		if len(r.Errors) >= maxReportErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
}

// MarshalLogObject lets a report be logged with zap.Object.
func (r BatchReport) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("phase", r.Phase)
	enc.AddInt("total", r.Total)
	enc.AddInt("accepted", r.Accepted)
	enc.AddInt("rejected", r.Rejected)
	enc.AddInt("unresolved", r.Unresolved)
	enc.AddInt("skipped", r.Skipped)
	enc.AddInt("duplicates", r.Duplicates)
	return nil
}
