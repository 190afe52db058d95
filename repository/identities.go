package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-auth-gate"
)

const pgUniqueViolation = "23505"

// Identities is the bun backed auth.IdentityStore.
type Identities struct {
	repository.Repository[*auth.User]
	db  bun.IDB
	now func() time.Time
}

var _ auth.IdentityStore = (*Identities)(nil)

// NewIdentities returns an identity store over db.
func NewIdentities(db *bun.DB) *Identities {
	repo := repository.NewRepository[*auth.User](db, repository.ModelHandlers[*auth.User]{
		NewRecord: func() *auth.User { return &auth.User{} },
		GetID: func(u *auth.User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *auth.User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &Identities{
		Repository: repo,
		db:         db,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Identities) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return r.findByIDTx(ctx, r.db, id)
}

func (r *Identities) findByIDTx(ctx context.Context, tx bun.IDB, id string) (*auth.User, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("%w: id %q", auth.ErrIdentityNotFound, id)
	}
	return r.findOne(ctx, tx, "id", uid)
}

func (r *Identities) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email", auth.ErrIdentityNotFound)
	}
	return r.findOne(ctx, r.db, "email", email)
}

func (r *Identities) FindByProviderID(ctx context.Context, providerID string) (*auth.User, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id", auth.ErrIdentityNotFound)
	}
	return r.findOne(ctx, r.db, "provider_id", providerID)
}

func (r *Identities) findOne(ctx context.Context, tx bun.IDB, column string, value any) (*auth.User, error) {
	record := &auth.User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", auth.ErrIdentityNotFound, column)
		}
		return nil, fmt.Errorf("failed to find identity by %s: %w", column, err)
	}
	return record, nil
}

// Create validates and inserts record. Unique violations map to
// auth.ErrEmailTaken or auth.ErrLinkConflict.
func (r *Identities) Create(ctx context.Context, record *auth.User) (*auth.User, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: record is nil", auth.ErrInvalidIdentity)
	}

	u := record.Clone()
	u.Email = auth.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := r.now()
	u.CreatedAt = &now
	u.UpdatedAt = &now

	created, err := r.Repository.CreateTx(ctx, r.db, u)
	if err != nil {
		return nil, r.createError(ctx, u, err)
	}
	return created, nil
}

// LinkProviderID sets provider_id only while it is empty or already equal,
// so two concurrent links can never both win.
func (r *Identities) LinkProviderID(ctx context.Context, id, providerID string) (*auth.User, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", auth.ErrInvalidIdentity)
	}
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("%w: id %q", auth.ErrIdentityNotFound, id)
	}

	res, err := r.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("provider_id = ?", providerID).
		Set("updated_at = ?", r.now()).
		Where("id = ?", uid).
		Where("(provider_id IS NULL OR provider_id = ?)", providerID).
		Exec(ctx)
	if err != nil {
		return nil, r.linkError(ctx, uid, providerID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		current, findErr := r.findByIDTx(ctx, r.db, id)
		if findErr != nil {
			return nil, findErr
		}
		if current.ProviderIDValue() != providerID {
			return nil, auth.ErrLinkConflict
		}
		return current, nil
	}

	return r.findByIDTx(ctx, r.db, id)
}

// SetApproval records the actor and time only on the unapproved to approved
// transition.
func (r *Identities) SetApproval(ctx context.Context, id string, approved bool, actorID string) (*auth.User, error) {
	var out *auth.User
	err := r.runInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		u, err := r.findByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		columns := []string{}
		switch {
		case approved && !u.Approved:
			now := r.now()
			u.Approved = true
			u.ApprovedBy = actorID
			u.ApprovedAt = &now
			columns = append(columns, "approved", "approved_by", "approved_at")
		case !approved && u.Approved:
			u.Approved = false
			columns = append(columns, "approved")
		}

		if len(columns) > 0 {
			now := r.now()
			u.UpdatedAt = &now
			columns = append(columns, "updated_at")
			if _, err := tx.NewUpdate().Model(u).Column(columns...).WherePK().Exec(ctx); err != nil {
				return fmt.Errorf("failed to update approval: %w", err)
			}
		}

		out = u
		return nil
	})
	return out, err
}

func (r *Identities) UpdateProfile(ctx context.Context, id string, profile auth.ProfileUpdate) (*auth.User, error) {
	var out *auth.User
	err := r.runInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		u, err := r.findByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if profile.IsEmpty() {
			out = u
			return nil
		}

		columns := []string{"updated_at"}
		if profile.DisplayName != "" {
			u.DisplayName = profile.DisplayName
			columns = append(columns, "display_name")
		}
		if profile.AvatarURL != "" {
			u.AvatarURL = profile.AvatarURL
			columns = append(columns, "avatar_url")
		}
		now := r.now()
		u.UpdatedAt = &now

		if _, err := tx.NewUpdate().Model(u).Column(columns...).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		out = u
		return nil
	})
	return out, err
}

// TrackLogin stamps loggedin_at after a successful login.
func (r *Identities) TrackLogin(ctx context.Context, id string) error {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("%w: id %q", auth.ErrIdentityNotFound, id)
	}
	_, err = r.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("loggedin_at = ?", r.now()).
		Where("id = ?", uid).
		Exec(ctx)
	return err
}

func (r *Identities) runInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	db, ok := r.db.(*bun.DB)
	if !ok {
		return fn(ctx, r.db)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

// isDuplicate reports whether err is a unique constraint violation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsDuplicatedKey(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// createError maps a failed insert of u. The repository layer may replace
// the driver error, so the conflicting column is confirmed by lookup.
func (r *Identities) createError(ctx context.Context, u *auth.User, err error) error {
	if existing, findErr := r.findOne(ctx, r.db, "email", u.Email); findErr == nil && existing.ID != u.ID {
		return fmt.Errorf("%w: %w", auth.ErrEmailTaken, err)
	}
	if providerID := u.ProviderIDValue(); providerID != "" {
		if existing, findErr := r.findOne(ctx, r.db, "provider_id", providerID); findErr == nil && existing.ID != u.ID {
			return fmt.Errorf("%w: %w", auth.ErrLinkConflict, err)
		}
	}
	return fmt.Errorf("failed to store identity: %w", err)
}

// linkError maps a failed provider id update. The only unique column it
// writes is provider_id.
func (r *Identities) linkError(ctx context.Context, id uuid.UUID, providerID string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("%w: %w", auth.ErrLinkConflict, err)
	}
	if existing, findErr := r.findOne(ctx, r.db, "provider_id", providerID); findErr == nil && existing.ID != id {
		return fmt.Errorf("%w: %w", auth.ErrLinkConflict, err)
	}
	return fmt.Errorf("failed to link provider id: %w", err)
}
