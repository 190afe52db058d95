package auth_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

func TestAuditor_StampsAndDelivers(t *testing.T) {
	sink := &auditCollector{}
	auditor := auth.NewAuditor(sink, nil)

	auditor.Record(context.Background(), auth.AuditRecord{Action: auth.AuditActionAccess, SubjectID: "u-1", Route: "me"})
	auditor.Record(context.Background(), auth.AuditRecord{Action: auth.AuditActionAccess, SubjectID: "u-2", Route: "me"})
	auditor.Wait()

	records := sink.Records()
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].ID, records[1].ID)
	for _, r := range records {
		assert.Len(t, r.ID, 26)
		assert.Equal(t, time.UTC, r.OccurredAt.Location())
	}
}

func TestAuditor_OutlivesRequestCancellation(t *testing.T) {
	var delivered atomic.Bool
	auditor := auth.NewAuditor(auth.AuditSinkFunc(func(ctx context.Context, _ auth.AuditRecord) error {
		if ctx.Err() == nil {
			delivered.Store(true)
		}
		return ctx.Err()
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	auditor.Record(ctx, auth.AuditRecord{Action: auth.AuditActionLoginSuccess, SubjectID: "u-1"})
	cancel()
	auditor.Wait()

	assert.True(t, delivered.Load())
}

func TestAuditor_RecoversFromSinkPanic(t *testing.T) {
	auditor := auth.NewAuditor(auth.AuditSinkFunc(func(context.Context, auth.AuditRecord) error {
		panic("sink exploded")
	}), nil)

	assert.NotPanics(t, func() {
		auditor.Record(context.Background(), auth.AuditRecord{Action: auth.AuditActionAccess})
		auditor.Wait()
	})
}

func TestAuditor_NilIsSafe(t *testing.T) {
	var auditor *auth.Auditor
	assert.NotPanics(t, func() {
		auditor.Record(context.Background(), auth.AuditRecord{})
		auditor.Wait()
	})

	dropAll := auth.NewAuditor(nil, nil)
	dropAll.Record(context.Background(), auth.AuditRecord{Action: auth.AuditActionAccess})
	dropAll.Wait()
}
