package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryIdentityStore is an IdentityStore kept in process memory. Records are
// copied on the way in and out so callers never share state with the store.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*User
	byEmail    map[string]uuid.UUID
	byProvider map[string]uuid.UUID
	now        func() time.Time
}

// NewMemoryIdentityStore returns an empty store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byID:       make(map[uuid.UUID]*User),
		byEmail:    make(map[string]uuid.UUID),
		byProvider: make(map[string]uuid.UUID),
		now:        time.Now,
	}
}

func (s *MemoryIdentityStore) FindByID(_ context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %q", ErrIdentityNotFound, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[uid]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrIdentityNotFound, id)
	}
	return u.Clone(), nil
}

func (s *MemoryIdentityStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("%w: email", ErrIdentityNotFound)
	}
	return s.byID[uid].Clone(), nil
}

func (s *MemoryIdentityStore) FindByProviderID(_ context.Context, providerID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.byProvider[providerID]
	if !ok || providerID == "" {
		return nil, fmt.Errorf("%w: provider id", ErrIdentityNotFound)
	}
	return s.byID[uid].Clone(), nil
}

func (s *MemoryIdentityStore) Create(_ context.Context, record *User) (*User, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: record is nil", ErrInvalidIdentity)
	}

	u := record.Clone()
	u.Email = NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := s.now()
	u.CreatedAt = &now
	u.UpdatedAt = &now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[u.ID]; exists {
		return nil, fmt.Errorf("%w: id %s", ErrEmailTaken, u.ID)
	}
	if _, exists := s.byEmail[u.Email]; exists {
		return nil, ErrEmailTaken
	}
	if u.HasProvider() {
		if _, exists := s.byProvider[*u.ProviderID]; exists {
			return nil, ErrLinkConflict
		}
		s.byProvider[*u.ProviderID] = u.ID
	}

	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u.Clone(), nil
}

// LinkProviderID attaches providerID to the record once. Linking the same
// provider id again is a no-op.
func (s *MemoryIdentityStore) LinkProviderID(_ context.Context, id, providerID string) (*User, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", ErrInvalidIdentity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	if owner, linked := s.byProvider[providerID]; linked && owner != u.ID {
		return nil, ErrLinkConflict
	}
	if u.HasProvider() && *u.ProviderID != providerID {
		return nil, ErrLinkConflict
	}

	if !u.HasProvider() {
		pid := providerID
		u.ProviderID = &pid
		s.byProvider[providerID] = u.ID
		s.touchLocked(u)
	}
	return u.Clone(), nil
}

// SetApproval updates the approval flag. Actor and timestamp are recorded only
// on the unapproved to approved transition.
func (s *MemoryIdentityStore) SetApproval(_ context.Context, id string, approved bool, actorID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	switch {
	case approved && !u.Approved:
		now := s.now()
		u.Approved = true
		u.ApprovedBy = actorID
		u.ApprovedAt = &now
		s.touchLocked(u)
	case !approved && u.Approved:
		u.Approved = false
		s.touchLocked(u)
	}
	return u.Clone(), nil
}

func (s *MemoryIdentityStore) UpdateProfile(_ context.Context, id string, profile ProfileUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if profile.IsEmpty() {
		return u.Clone(), nil
	}

	if profile.DisplayName != "" {
		u.DisplayName = profile.DisplayName
	}
	if profile.AvatarURL != "" {
		u.AvatarURL = profile.AvatarURL
	}
	s.touchLocked(u)
	return u.Clone(), nil
}

// Len returns the number of records.
func (s *MemoryIdentityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemoryIdentityStore) lookupLocked(id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %q", ErrIdentityNotFound, id)
	}
	u, ok := s.byID[uid]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrIdentityNotFound, id)
	}
	return u, nil
}

func (s *MemoryIdentityStore) touchLocked(u *User) {
	now := s.now()
	u.UpdatedAt = &now
}

var _ IdentityStore = (*MemoryIdentityStore)(nil)
