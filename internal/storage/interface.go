// Package storage persists the outcome of invoice submissions.
//
// # Interface Design
//
//   - [SubmissionStore]: submission records keyed by id and KSeF number
//   - [Store]: SubmissionStore plus connection lifecycle
//   - [Recorder]: adapts a SubmissionStore to ksef.Recorder
//
// # Implementations
//
// The memory sub-package keeps records for the lifetime of the process; the
// mongodb sub-package stores them in a MongoDB collection.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-ksef/pkg/ksef"
)

// Store is the main storage interface
type Store interface {
	SubmissionStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks connectivity
	Ping(ctx context.Context) error
}

// SubmissionStore manages submission records
type SubmissionStore interface {
	// SaveSubmission inserts or replaces a record. An empty ID is assigned.
	SaveSubmission(ctx context.Context, sub *Submission) error

	// GetSubmission retrieves a record by ID, or nil if there is none
	GetSubmission(ctx context.Context, id string) (*Submission, error)

	// GetSubmissionByKsefNumber retrieves a record by the authority-issued number
	GetSubmissionByKsefNumber(ctx context.Context, ksefNumber string) (*Submission, error)

	// ListSubmissions returns records, newest first
	ListSubmissions(ctx context.Context, filter *SubmissionFilter) ([]*Submission, error)

	// CountSubmissions returns the number of matching records
	CountSubmissions(ctx context.Context, filter *SubmissionFilter) (int64, error)
}

// Submission is the stored form of a ksef.SubmitResult
type Submission struct {
	ID                     string    `bson:"_id" json:"id"`
	SessionReferenceNumber string    `bson:"session_reference_number" json:"sessionReferenceNumber"`
	InvoiceReferenceNumber string    `bson:"invoice_reference_number,omitempty" json:"invoiceReferenceNumber,omitempty"`
	KsefNumber             string    `bson:"ksef_number,omitempty" json:"ksefNumber,omitempty"`
	Status                 int       `bson:"status" json:"status"`
	Error                  string    `bson:"error,omitempty" json:"error,omitempty"`
	InvoiceHash            string    `bson:"invoice_hash" json:"invoiceHash"`
	InvoiceSize            int64     `bson:"invoice_size" json:"invoiceSize"`
	SellerID               string    `bson:"seller_id" json:"sellerId"`
	IssueDate              string    `bson:"issue_date" json:"issueDate"`
	InvoiceNumber          string    `bson:"invoice_number,omitempty" json:"invoiceNumber,omitempty"`
	GrossAmount            string    `bson:"gross_amount" json:"grossAmount"`
	VerificationURL        string    `bson:"verification_url,omitempty" json:"verificationUrl,omitempty"`
	UPO                    []byte    `bson:"upo,omitempty" json:"upo,omitempty"`
	SubmittedAt            time.Time `bson:"submitted_at" json:"submittedAt"`
	RecordedAt             time.Time `bson:"recorded_at" json:"recordedAt"`
}

// Failed reports whether the submission ended with an error status
func (s *Submission) Failed() bool {
	return s.Status >= 400
}

// SubmissionFilter filters submission listings
type SubmissionFilter struct {
	SellerID string
	// Failed selects failed (true) or successful (false) submissions.
	Failed *bool
	Since  *time.Time
	Limit  int
	Offset int
}

// Matches reports whether sub passes the filter, ignoring paging.
func (f *SubmissionFilter) Matches(sub *Submission) bool {
	if f == nil {
		return true
	}
	if f.SellerID != "" && sub.SellerID != f.SellerID {
		return false
	}
	if f.Failed != nil && sub.Failed() != *f.Failed {
		return false
	}
	if f.Since != nil && sub.SubmittedAt.Before(*f.Since) {
		return false
	}
	return true
}

// FromResult converts a submission result into a record.
func FromResult(r *ksef.SubmitResult) *Submission {
	return &Submission{
		SessionReferenceNumber: r.SessionReferenceNumber,
		InvoiceReferenceNumber: r.InvoiceReferenceNumber,
		KsefNumber:             r.InvoiceKsefNumber,
		Status:                 r.Status,
		Error:                  r.Error,
		InvoiceHash:            r.InvoiceHash,
		InvoiceSize:            r.InvoiceSize,
		SellerID:               r.Meta.SellerID,
		IssueDate:              r.Meta.IssueDate,
		InvoiceNumber:          r.Meta.InvoiceNumber,
		GrossAmount:            r.Meta.GrossAmount.StringFixed(2),
		VerificationURL:        r.Meta.VerificationURL,
		UPO:                    r.UPO,
		SubmittedAt:            r.SubmittedAt,
	}
}

// Recorder stores submission results; it implements ksef.Recorder
type Recorder struct {
	store SubmissionStore
	now   func() time.Time
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store SubmissionStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record saves result as a new submission.
func (r *Recorder) Record(ctx context.Context, result *ksef.SubmitResult) error {
	sub := FromResult(result)
	sub.ID = uuid.NewString()
	sub.RecordedAt = r.now().UTC()
	return r.store.SaveSubmission(ctx, sub)
}

var _ ksef.Recorder = (*Recorder)(nil)
