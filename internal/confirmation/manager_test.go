package confirmation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enroll/internal/sentinel"
	"enroll/pkg/domain"
)

type stubFacility struct {
	values    map[string]string
	confirmed map[string]bool
	sent      map[string]int
}

func newStubFacility() *stubFacility {
	return &stubFacility{
		values:    make(map[string]string),
		confirmed: make(map[string]bool),
		sent:      make(map[string]int),
	}
}

func elementKey(owner Owner, ref ElementRef) string {
	return fmt.Sprintf("%s|%s|%s|%d", owner.String(), ref.Type, ref.Name, ref.Index)
}

func (f *stubFacility) set(owner Owner, ref ElementRef, value string) {
	f.values[elementKey(owner, ref)] = value
}

func (f *stubFacility) Current(_ context.Context, owner Owner, ref ElementRef) (string, bool, error) {
	key := elementKey(owner, ref)
	value, ok := f.values[key]
	if !ok {
		return "", false, sentinel.ErrNotFound
	}
	return value, f.confirmed[key], nil
}

func (f *stubFacility) MarkConfirmed(_ context.Context, owner Owner, ref ElementRef, _ time.Time) error {
	f.confirmed[elementKey(owner, ref)] = true
	return nil
}

func (f *stubFacility) OnSent(_ context.Context, owner Owner, ref ElementRef, _ time.Time) error {
	f.sent[elementKey(owner, ref)]++
	return nil
}

type ManagerSuite struct {
	suite.Suite
	codec    *Codec
	store    *InMemoryTokenStore
	requests *stubFacility
	entities *stubFacility
	manager  *Manager
	ctx      context.Context

	requestID domain.RequestID
	entityID  domain.EntityID
}

func (s *ManagerSuite) SetupTest() {
	s.codec = NewCodec("test-signing-key", "enroll-test", time.Hour)
	s.store = NewInMemoryTokenStore()
	s.requests = newStubFacility()
	s.entities = newStubFacility()
	s.manager = NewManager(s.codec, s.store)
	s.manager.RegisterFacility(OwnerRequest, s.requests)
	s.manager.RegisterFacility(OwnerEntity, s.entities)
	s.ctx = context.Background()
	s.requestID = domain.NewRequestID()
	s.entityID = domain.NewEntityID()
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) emailCandidate() Candidate {
	return Candidate{
		Owner:   RequestOwner(s.requestID),
		Element: ElementRef{Type: ElementIdentity, Name: "email", Index: 0},
		Value:   "jane@example.com",
		Address: "jane@example.com",
		Locale:  "en",
	}
}

func (s *ManagerSuite) TestSendIssuesToken() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	res, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)
	s.NotEmpty(res.Token)
	s.False(res.Resent)
	s.False(res.Suppressed)
	s.Equal(1, s.requests.sent[elementKey(c.Owner, c.Element)])

	outstanding, err := s.manager.Outstanding(s.ctx, c.Owner)
	s.Require().NoError(err)
	s.Require().Len(outstanding, 1)
	s.Equal(1, outstanding[0].SentCount)
}

func (s *ManagerSuite) TestResendReusesToken() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	first, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)
	second, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)

	s.True(second.Resent)
	s.Equal(first.Token, second.Token)

	outstanding, err := s.manager.Outstanding(s.ctx, c.Owner)
	s.Require().NoError(err)
	s.Require().Len(outstanding, 1)
	s.Equal(2, outstanding[0].SentCount)
	s.Equal(2, s.requests.sent[elementKey(c.Owner, c.Element)])
}

func (s *ManagerSuite) TestSendSuppressedWhenConfirmed() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)
	s.requests.confirmed[elementKey(c.Owner, c.Element)] = true

	res, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)
	s.True(res.Suppressed)
	s.Empty(res.Token)

	outstanding, err := s.manager.Outstanding(s.ctx, c.Owner)
	s.Require().NoError(err)
	s.Empty(outstanding)
}

func (s *ManagerSuite) TestConfirmIsIdempotent() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	res, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)

	outcome, err := s.manager.Confirm(s.ctx, res.Token)
	s.Require().NoError(err)
	s.Equal(OutcomeConfirmed, outcome)
	s.True(s.requests.confirmed[elementKey(c.Owner, c.Element)])

	// The token was consumed; a second attempt must not confirm again.
	outcome, err = s.manager.Confirm(s.ctx, res.Token)
	s.Require().NoError(err)
	s.Equal(OutcomeInvalid, outcome)

	// Counter is only moved by sends, never by confirmations.
	s.Equal(1, s.requests.sent[elementKey(c.Owner, c.Element)])
}

func (s *ManagerSuite) TestConfirmElementChanged() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	res, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)

	// Value edited after the token went out.
	s.requests.set(c.Owner, c.Element, "other@example.com")

	outcome, err := s.manager.Confirm(s.ctx, res.Token)
	s.Require().NoError(err)
	s.Equal(OutcomeElementChanged, outcome)
	s.False(s.requests.confirmed[elementKey(c.Owner, c.Element)])

	outstanding, err := s.manager.Outstanding(s.ctx, c.Owner)
	s.Require().NoError(err)
	s.Empty(outstanding)
}

func (s *ManagerSuite) TestConfirmAlreadyConfirmed() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	res, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)

	s.requests.confirmed[elementKey(c.Owner, c.Element)] = true

	outcome, err := s.manager.Confirm(s.ctx, res.Token)
	s.Require().NoError(err)
	s.Equal(OutcomeAlreadyConfirmed, outcome)
}

func (s *ManagerSuite) TestConfirmExpiredToken() {
	expired := NewCodec("test-signing-key", "enroll-test", -time.Hour)
	manager := NewManager(expired, s.store)
	manager.RegisterFacility(OwnerRequest, s.requests)

	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	res, err := manager.Send(s.ctx, c)
	s.Require().NoError(err)

	outcome, err := manager.Confirm(s.ctx, res.Token)
	s.Require().NoError(err)
	s.Equal(OutcomeInvalid, outcome)
}

func (s *ManagerSuite) TestConfirmGarbageToken() {
	outcome, err := s.manager.Confirm(s.ctx, "not-a-token")
	s.Require().Error(err)
	s.Equal(OutcomeInvalid, outcome)
}

func (s *ManagerSuite) TestRewriteForEntity() {
	surviving := s.emailCandidate()
	s.requests.set(surviving.Owner, surviving.Element, surviving.Value)

	stripped := Candidate{
		Owner:   RequestOwner(s.requestID),
		Element: ElementRef{Type: ElementAttribute, Name: "altMail", Index: 1},
		Value:   "alt@example.com",
		Address: "alt@example.com",
		Locale:  "en",
		Group:   domain.Root,
	}
	s.requests.set(stripped.Owner, stripped.Element, stripped.Value)

	_, err := s.manager.Send(s.ctx, surviving)
	s.Require().NoError(err)
	_, err = s.manager.Send(s.ctx, stripped)
	s.Require().NoError(err)

	// Translation kept the email identity but dropped the alt address.
	lookup := func(ref ElementRef) (string, bool) {
		if ref.Type == ElementIdentity && ref.Name == "email" {
			return surviving.Value, true
		}
		return "", false
	}

	err = s.manager.RewriteForEntity(s.ctx, s.requestID, s.entityID, lookup)
	s.Require().NoError(err)

	// No token references the original request anymore.
	old, err := s.manager.Outstanding(s.ctx, RequestOwner(s.requestID))
	s.Require().NoError(err)
	s.Empty(old)

	// The surviving element has exactly one token, addressed to the entity.
	rewritten, err := s.manager.Outstanding(s.ctx, EntityOwner(s.entityID))
	s.Require().NoError(err)
	s.Require().Len(rewritten, 1)
	s.Equal(surviving.Value, rewritten[0].Value)
	s.Equal(surviving.Element, rewritten[0].Element)
}

func (s *ManagerSuite) TestRewrittenTokenConfirmsAgainstEntity() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	_, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)

	err = s.manager.RewriteForEntity(s.ctx, s.requestID, s.entityID, func(ref ElementRef) (string, bool) {
		return c.Value, true
	})
	s.Require().NoError(err)

	s.entities.set(EntityOwner(s.entityID), c.Element, c.Value)

	rewritten, err := s.manager.Outstanding(s.ctx, EntityOwner(s.entityID))
	s.Require().NoError(err)
	s.Require().Len(rewritten, 1)

	outcome, err := s.manager.Confirm(s.ctx, rewritten[0].Token)
	s.Require().NoError(err)
	s.Equal(OutcomeConfirmed, outcome)
	s.True(s.entities.confirmed[elementKey(EntityOwner(s.entityID), c.Element)])
}

func (s *ManagerSuite) TestRemoveForOwner() {
	c := s.emailCandidate()
	s.requests.set(c.Owner, c.Element, c.Value)

	_, err := s.manager.Send(s.ctx, c)
	s.Require().NoError(err)

	err = s.manager.RemoveForOwner(s.ctx, c.Owner)
	s.Require().NoError(err)

	outstanding, err := s.manager.Outstanding(s.ctx, c.Owner)
	s.Require().NoError(err)
	s.Empty(outstanding)
}
