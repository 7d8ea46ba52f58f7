package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// Facility reads and mutates the live state of verifiable elements for one
// owner kind. The request facility works on pending requests, the entity
// facility on the identity registry.
type Facility interface {
	// Current returns the element's present value and whether it is already
	// confirmed. sentinel.ErrNotFound when the element no longer exists.
	Current(ctx context.Context, owner Owner, ref ElementRef) (value string, confirmed bool, err error)
	// MarkConfirmed records proof of control on the element.
	MarkConfirmed(ctx context.Context, owner Owner, ref ElementRef, at time.Time) error
	// OnSent records a (re)send: bump the element's send counter and clear
	// any stale confirmation date.
	OnSent(ctx context.Context, owner Owner, ref ElementRef, at time.Time) error
}

// SendResult reports what Send did for one candidate.
type SendResult struct {
	// Token is the signed credential to embed in the confirmation message.
	// Empty when the send was suppressed.
	Token string
	// Resent is true when an outstanding token for the same owner and value
	// was reused instead of minting a new one.
	Resent bool
	// Suppressed is true when the value is already confirmed and no token
	// was issued or reused.
	Suppressed bool
}

type ManagerOption func(*Manager)

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager drives the per-value confirmation state machine:
// unconfirmed -> request-sent(n) -> confirmed.
type Manager struct {
	codec      *Codec
	store      TokenStore
	facilities map[OwnerType]Facility
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(codec *Codec, store TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		codec:      codec,
		store:      store,
		facilities: make(map[OwnerType]Facility),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterFacility wires the element accessor for one owner kind.
func (m *Manager) RegisterFacility(ownerType OwnerType, f Facility) {
	m.facilities[ownerType] = f
}

func (m *Manager) facility(ownerType OwnerType) (Facility, error) {
	f, ok := m.facilities[ownerType]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("no confirmation facility for owner type %q", ownerType))
	}
	return f, nil
}

// Send issues a confirmation token for the candidate value, or reuses the
// outstanding one. A candidate whose value is already confirmed is
// suppressed without touching the store.
func (m *Manager) Send(ctx context.Context, c Candidate) (SendResult, error) {
	facility, err := m.facility(c.Owner.Type)
	if err != nil {
		return SendResult{}, err
	}

	current, confirmed, err := facility.Current(ctx, c.Owner, c.Element)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return SendResult{}, err
	}
	if err == nil && confirmed && current == c.Value {
		return SendResult{Suppressed: true}, nil
	}

	now := m.now()

	existing, found, err := m.findDuplicate(ctx, c)
	if err != nil {
		return SendResult{}, err
	}
	if found {
		if now.Before(existing.ExpiresAt) {
			existing.SentCount++
			existing.LastSentAt = now
			if err := m.store.Add(ctx, TokenTypeConfirmation, existing.Key, existing); err != nil {
				return SendResult{}, err
			}
			if err := facility.OnSent(ctx, c.Owner, c.Element, now); err != nil {
				return SendResult{}, err
			}
			return SendResult{Token: existing.Token, Resent: true}, nil
		}
		// Expired leftover; replace it with a fresh token.
		if err := m.store.Remove(ctx, TokenTypeConfirmation, existing.Key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return SendResult{}, err
		}
	}

	token, jti, err := m.codec.Issue(c, now)
	if err != nil {
		return SendResult{}, err
	}
	state := State{
		Key:        jti,
		Owner:      c.Owner,
		Element:    c.Element,
		Value:      c.Value,
		Address:    c.Address,
		Locale:     c.Locale,
		Group:      c.Group,
		Token:      token,
		SentCount:  1,
		LastSentAt: now,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.codec.TTL()),
	}
	if err := m.store.Add(ctx, TokenTypeConfirmation, jti, state); err != nil {
		return SendResult{}, err
	}
	if err := facility.OnSent(ctx, c.Owner, c.Element, now); err != nil {
		return SendResult{}, err
	}

	m.logger.DebugContext(ctx, "confirmation token issued",
		slog.String("owner", c.Owner.String()),
		slog.String("element", string(c.Element.Type)),
		slog.String("name", c.Element.Name))
	return SendResult{Token: token}, nil
}

func (m *Manager) findDuplicate(ctx context.Context, c Candidate) (State, bool, error) {
	all, err := m.store.GetAll(ctx, TokenTypeConfirmation)
	if err != nil {
		return State{}, false, err
	}
	for _, st := range all {
		if isDuplicate(st, c) {
			return st, true, nil
		}
	}
	return State{}, false, nil
}

// Confirm resolves a token. The element's current value is re-checked
// against the value recorded at issue time; a mismatch means the value
// changed after issue and must not be silently confirmed. Resolving is
// one-shot: the token is consumed whatever the outcome.
func (m *Manager) Confirm(ctx context.Context, tokenString string) (Outcome, error) {
	claims, err := m.codec.Parse(tokenString)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return OutcomeInvalid, nil
		}
		return OutcomeInvalid, err
	}

	state, err := m.store.Get(ctx, TokenTypeConfirmation, claims.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Unknown or already consumed.
			return OutcomeInvalid, nil
		}
		return OutcomeInvalid, err
	}

	facility, err := m.facility(state.Owner.Type)
	if err != nil {
		return OutcomeInvalid, err
	}

	consume := func() error {
		if err := m.store.Remove(ctx, TokenTypeConfirmation, state.Key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		return nil
	}

	current, confirmed, err := facility.Current(ctx, state.Owner, state.Element)
	if errors.Is(err, sentinel.ErrNotFound) {
		if err := consume(); err != nil {
			return OutcomeInvalid, err
		}
		return OutcomeElementChanged, nil
	}
	if err != nil {
		return OutcomeInvalid, err
	}
	if current != state.Value {
		if err := consume(); err != nil {
			return OutcomeInvalid, err
		}
		return OutcomeElementChanged, nil
	}
	if confirmed {
		if err := consume(); err != nil {
			return OutcomeInvalid, err
		}
		return OutcomeAlreadyConfirmed, nil
	}

	if err := facility.MarkConfirmed(ctx, state.Owner, state.Element, m.now()); err != nil {
		return OutcomeInvalid, err
	}
	if err := consume(); err != nil {
		return OutcomeInvalid, err
	}

	m.logger.InfoContext(ctx, "value confirmed",
		slog.String("owner", state.Owner.String()),
		slog.String("element", string(state.Element.Type)),
		slog.String("name", state.Element.Name))
	return OutcomeConfirmed, nil
}

// ElementLookup resolves an element reference against the accepted request's
// translated data: the surviving value, or false when the element was
// stripped or renamed during translation.
type ElementLookup func(ref ElementRef) (value string, present bool)

// RewriteForEntity re-addresses outstanding request tokens to the entity
// created from that request. The signed token string and its key are kept
// as-is and only the stored owner is swapped, so links already delivered
// for the request keep resolving; Confirm reads the owner from the stored
// state, never from the claims. Tokens whose element did not survive
// translation with an identical value are dropped. A crash between remove
// and re-add loses at most one token, which a fresh confirmation send
// recovers.
func (m *Manager) RewriteForEntity(ctx context.Context, requestID domain.RequestID, entityID domain.EntityID, lookup ElementLookup) error {
	all, err := m.store.GetAll(ctx, TokenTypeConfirmation)
	if err != nil {
		return err
	}

	owner := RequestOwner(requestID)
	for _, st := range all {
		if st.Owner != owner {
			continue
		}
		if err := m.store.Remove(ctx, TokenTypeConfirmation, st.Key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}

		value, present := lookup(st.Element)
		if !present || value != st.Value {
			m.logger.DebugContext(ctx, "confirmation token dropped on rewrite",
				slog.String("request_id", requestID.String()),
				slog.String("name", st.Element.Name))
			continue
		}

		rewritten := st
		rewritten.Owner = EntityOwner(entityID)
		if err := m.store.Add(ctx, TokenTypeConfirmation, rewritten.Key, rewritten); err != nil {
			return err
		}
	}
	return nil
}

// RemoveForOwner discards every outstanding token addressed to the owner.
// Used when a request is rejected or dropped.
func (m *Manager) RemoveForOwner(ctx context.Context, owner Owner) error {
	all, err := m.store.GetAll(ctx, TokenTypeConfirmation)
	if err != nil {
		return err
	}
	for _, st := range all {
		if st.Owner != owner {
			continue
		}
		if err := m.store.Remove(ctx, TokenTypeConfirmation, st.Key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Outstanding lists token state addressed to the owner, for diagnostics and
// tests.
func (m *Manager) Outstanding(ctx context.Context, owner Owner) ([]State, error) {
	all, err := m.store.GetAll(ctx, TokenTypeConfirmation)
	if err != nil {
		return nil, err
	}
	var out []State
	for _, st := range all {
		if st.Owner == owner {
			out = append(out, st)
		}
	}
	return out, nil
}
