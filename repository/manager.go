package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-auth-gate"
)

// Manager exposes the stores backed by one database.
type Manager interface {
	repository.Validator
	repository.TransactionManager
	Identities() *Identities
	Audit() *AuditEntries
}

type mngr struct {
	db         *bun.DB
	identities *Identities
	audit      *AuditEntries
}

// NewManager wires the stores over db.
func NewManager(db *bun.DB) Manager {
	return &mngr{
		db:         db,
		identities: NewIdentities(db),
		audit:      NewAuditEntries(db),
	}
}

func (m mngr) Validate() error {
	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.audit == nil {
		return errors.New("repository audit should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Identities() *Identities {
	return m.identities
}

func (m mngr) Audit() *AuditEntries {
	return m.audit
}

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*auth.User)(nil),
		(*auth.AuditEntry)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
