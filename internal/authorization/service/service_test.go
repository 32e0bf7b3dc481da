package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"submit/internal/authorization/models"
	"submit/internal/authorization/store"
	"submit/internal/identity"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	created time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.New()
	s.service = New(s.store, "https://submit.example.com")
	s.created = time.Date(2025, 8, 27, 1, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ServiceSuite) create(program string) *models.Request {
	r, err := s.service.Create(s.at(s.created), program)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) TestCreate() {
	r := s.create("ysws")
	s.Equal(models.StatusPending, r.Status)
	s.True(strings.HasPrefix(r.PopupURL, "https://submit.example.com/popup/authorize/"))
	s.True(strings.HasSuffix(r.PopupURL, r.AuthID))
	s.Equal(s.created.Add(15*time.Minute), r.ExpiresAt())

	other := s.create("ysws")
	s.NotEqual(r.AuthID, other.AuthID)
}

func (s *ServiceSuite) TestReadStatusNotFound() {
	_, err := s.service.ReadStatus(s.at(s.created), "missing", "ysws")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestReadStatusPending() {
	r := s.create("ysws")
	view, err := s.service.ReadStatus(s.at(s.created.Add(time.Minute)), r.AuthID, "ysws")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, view.Request.Status)
	s.Nil(view.Identity)
}

func (s *ServiceSuite) TestReadStatusWrongProgram() {
	r := s.create("ysws")
	_, err := s.service.ReadStatus(s.at(s.created), r.AuthID, "other")
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
	s.Equal("Not allowed", dErrors.MessageOf(err))
}

func (s *ServiceSuite) TestReadStatusLazilyExpires() {
	r := s.create("ysws")
	late := s.at(s.created.Add(16 * time.Minute))

	stored, err := s.store.FindByAuthID(context.Background(), r.AuthID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status, "no timer expires requests")

	view, err := s.service.ReadStatus(late, r.AuthID, "ysws")
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, view.Request.Status)

	// the read itself changed state
	stored, err = s.store.FindByAuthID(context.Background(), r.AuthID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)

	err = s.service.Complete(late, r.AuthID, "rec1", identity.Identity{"id": "rec1"})
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestForeignPollStillExpires() {
	r := s.create("ysws")
	_, err := s.service.ReadStatus(s.at(s.created.Add(20*time.Minute)), r.AuthID, "other")
	s.True(dErrors.Is(err, dErrors.CodeForbidden))

	stored, err := s.store.FindByAuthID(context.Background(), r.AuthID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
}

func (s *ServiceSuite) TestCompletedIsReadOnce() {
	r := s.create("ysws")
	ctx := s.at(s.created.Add(2 * time.Minute))
	s.Require().NoError(s.service.Complete(ctx, r.AuthID, "rec1", identity.Identity{"id": "rec1", "email": "a@b.c"}))

	view, err := s.service.ReadStatus(ctx, r.AuthID, "ysws")
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, view.Request.Status)
	s.Equal("rec1", view.Request.IDVRec)
	s.Equal("a@b.c", view.Identity["email"])

	for _, requester := range []string{"ysws", "other"} {
		_, err = s.service.ReadStatus(ctx, r.AuthID, requester)
		s.True(dErrors.Is(err, dErrors.CodeForbidden), requester)
	}
}

func (s *ServiceSuite) TestCompletedBeforeTTLIsNotExpiredAfterIt() {
	r := s.create("ysws")
	s.Require().NoError(s.service.Complete(s.at(s.created.Add(time.Minute)), r.AuthID, "rec1", identity.Identity{"id": "rec1"}))

	view, err := s.service.ReadStatus(s.at(s.created.Add(time.Hour)), r.AuthID, "ysws")
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, view.Request.Status)
}

func (s *ServiceSuite) TestConcurrentReadsHaveOneWinner() {
	r := s.create("ysws")
	ctx := s.at(s.created.Add(time.Minute))
	s.Require().NoError(s.service.Complete(ctx, r.AuthID, "rec1", identity.Identity{"id": "rec1"}))

	var winners, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := s.service.ReadStatus(ctx, r.AuthID, "ysws")
			switch {
			case err == nil && view.Identity != nil:
				winners.Add(1)
			case dErrors.Is(err, dErrors.CodeForbidden):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), winners.Load())
	s.Equal(int32(19), rejected.Load())
}

func (s *ServiceSuite) TestFailAndPending() {
	r := s.create("ysws")
	ctx := s.at(s.created)

	pending, err := s.service.Pending(ctx, r.AuthID)
	s.Require().NoError(err)
	s.Equal(r.AuthID, pending.AuthID)

	s.Require().NoError(s.service.Fail(ctx, r.AuthID, "token_exchange_failed"))
	_, err = s.service.Pending(ctx, r.AuthID)
	s.True(dErrors.Is(err, dErrors.CodeGone))

	view, err := s.service.ReadStatus(ctx, r.AuthID, "ysws")
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, view.Request.Status)

	err = s.service.Fail(ctx, r.AuthID, "again")
	s.True(dErrors.Is(err, dErrors.CodeConflict))
	_, err = s.service.Pending(ctx, "missing")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}
