package auth

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditAction enumerates the audited actions.
type AuditAction string

const (
	AuditActionAccess        AuditAction = "auth.access"
	AuditActionAPIKeyAccess  AuditAction = "auth.access.api_key"
	AuditActionLoginSuccess  AuditAction = "auth.login.success"
	AuditActionLoginFailure  AuditAction = "auth.login.failure"
	AuditActionSocialLogin   AuditAction = "auth.social.login"
	AuditActionSocialPending AuditAction = "auth.social.pending"
	AuditActionRefresh       AuditAction = "auth.refresh"
	AuditActionRegistered    AuditAction = "user.registered"
	AuditActionApproved      AuditAction = "user.approved"
)

// AuditRecord captures who did what on which route.
type AuditRecord struct {
	ID         string
	Action     AuditAction
	SubjectID  string
	Role       string
	Route      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// AuditSink is an append only log of authenticated actions.
type AuditSink interface {
	Append(ctx context.Context, record AuditRecord) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, record AuditRecord) error

// Append implements AuditSink.
func (f AuditSinkFunc) Append(ctx context.Context, record AuditRecord) error {
	if f == nil {
		return nil
	}
	return f(ctx, record)
}

type noopAuditSink struct{}

func (noopAuditSink) Append(context.Context, AuditRecord) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

// LoggerAuditSink writes audit records to a Logger.
type LoggerAuditSink struct {
	Logger Logger
}

// Append implements AuditSink.
func (s LoggerAuditSink) Append(_ context.Context, record AuditRecord) error {
	normalizeLogger(s.Logger).Info("audit",
		"audit_id", record.ID,
		"action", string(record.Action),
		"subject", record.SubjectID,
		"role", record.Role,
		"route", record.Route,
		"at", record.OccurredAt.Format(time.RFC3339),
	)
	return nil
}

// DefaultAuditTimeout bounds a single sink write.
const DefaultAuditTimeout = 5 * time.Second

// Auditor dispatches records to a sink without blocking the caller. Sink
// failures are logged and never returned.
type Auditor struct {
	sink    AuditSink
	logger  Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewAuditor wraps sink. A nil sink drops every record.
func NewAuditor(sink AuditSink, logger Logger) *Auditor {
	return &Auditor{
		sink:    normalizeAuditSink(sink),
		logger:  normalizeLogger(logger),
		timeout: DefaultAuditTimeout,
		now:     time.Now,
	}
}

// Record stamps the record and appends it in the background. The write
// outlives ctx cancellation but keeps its values.
func (a *Auditor) Record(ctx context.Context, record AuditRecord) {
	if a == nil {
		return
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = a.now().UTC()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("audit sink panicked", "action", string(record.Action), "panic", r)
			}
		}()

		writeCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		if err := a.sink.Append(writeCtx, record); err != nil {
			a.logger.Warn("audit append failed", "action", string(record.Action), "subject", record.SubjectID, "error", err)
		}
	}()
}

// Wait blocks until every dispatched record has been handled.
func (a *Auditor) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
