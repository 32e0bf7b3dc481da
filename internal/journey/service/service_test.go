package service

//go:generate mockgen -source=recorder.go -destination=mocks/mocks.go -package=mocks Store,Sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"submit/internal/journey/models"
	"submit/internal/journey/service/mocks"
	"submit/internal/journey/sessionize"
	"submit/internal/journey/store"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/requestcontext"
)

type RecorderSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	store *mocks.MockStore
	sink  *mocks.MockSink
	rec   *Recorder
	ctx   context.Context
	now   time.Time
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.sink = mocks.NewMockSink(s.ctrl)
	s.rec = NewRecorder(s.store, WithSink(s.sink), WithSink(nil))
	s.now = time.Date(2025, 8, 25, 13, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithClientMetadata(requestcontext.WithTime(context.Background(), s.now), "203.0.113.7", "curl/8.0")
}

func (s *RecorderSuite) TestFillsRequestScopedFields() {
	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *models.Event) (int64, error) {
		s.Equal(s.now, e.CreatedAt)
		s.Equal("203.0.113.7", e.RequestIP)
		s.Equal(models.Metadata{"submit_id": "sub-1"}, e.Metadata)
		return 9, nil
	})
	s.sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e models.Event) {
		s.Equal(int64(9), e.ID)
	})

	id := s.rec.Record(s.ctx, models.Event{
		Type:     string(models.KindOAuthPassed),
		Metadata: models.Metadata{"submit_id": "sub-1", "slack_id": "", "first_name": nil},
	})
	s.Equal(int64(9), id)
}

func (s *RecorderSuite) TestExplicitFieldsWin() {
	at := s.now.Add(-time.Hour)
	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *models.Event) (int64, error) {
		s.Equal(at, e.CreatedAt)
		s.Equal("198.51.100.1", e.RequestIP)
		return 1, nil
	})
	s.sink.EXPECT().Publish(gomock.Any(), gomock.Any())

	s.rec.Record(s.ctx, models.Event{Type: "program_page", RequestIP: "198.51.100.1", CreatedAt: at})
}

func (s *RecorderSuite) TestStoreFailureIsSwallowed() {
	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("connection refused"))

	s.Zero(s.rec.Record(s.ctx, models.Event{Type: "oauth_start"}))
}

func TestDescribeUserAgent(t *testing.T) {
	assert.Nil(t, DescribeUserAgent("  "))

	meta := DescribeUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	require.NotNil(t, meta)
	assert.Contains(t, meta.String(models.MetaBrowser), "Chrome")
	assert.Contains(t, meta.String(models.MetaOS), "Windows")
	assert.Equal(t, false, meta[models.MetaBot])

	bot := DescribeUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.Equal(t, true, bot[models.MetaBot])
}

func TestSessionsList(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	rec := NewRecorder(st)
	base := time.Date(2025, 8, 25, 13, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		submitID := "sub-" + string(rune('a'+i))
		rec.Record(ctx, models.Event{Type: "oauth_passed", Program: "ysws", CreatedAt: at,
			Metadata: models.Metadata{"submit_id": submitID}})
		rec.Record(ctx, models.Event{Type: "verification_attempt", Program: "ysws", CreatedAt: at.Add(time.Minute),
			Metadata: models.Metadata{"submit_id": submitID, "verified": i%2 == 0}})
	}
	rec.Record(ctx, models.Event{Type: "program_page", Program: "hackathon", CreatedAt: base})

	svc := NewSessions(st)

	t.Run("paginates newest first", func(t *testing.T) {
		view, err := svc.List(ctx, SessionsRequest{Query: models.Query{Program: "ysws"}})
		require.NoError(t, err)
		assert.Equal(t, 12, view.TotalCount)
		assert.Equal(t, 2, view.TotalPages)
		require.Len(t, view.Sessions, sessionize.PageSize)
		assert.Equal(t, "sub-l", view.Sessions[0].SubmitID)
		assert.Equal(t, []string{"hackathon", "ysws"}, view.Programs)

		last, err := svc.List(ctx, SessionsRequest{Query: models.Query{Program: "ysws"}, Page: 7})
		require.NoError(t, err)
		assert.Equal(t, 2, last.Page)
		assert.Len(t, last.Sessions, 2)
	})

	t.Run("result bucket", func(t *testing.T) {
		view, err := svc.List(ctx, SessionsRequest{
			Query:  models.Query{Program: "ysws"},
			Filter: sessionize.Filter{Result: "passed"},
		})
		require.NoError(t, err)
		assert.Equal(t, 6, view.TotalCount)
	})

	t.Run("exact submit id text", func(t *testing.T) {
		view, err := svc.List(ctx, SessionsRequest{Filter: sessionize.Filter{Text: "sub-c"}})
		require.NoError(t, err)
		require.Equal(t, 1, view.TotalCount)
		assert.Equal(t, sessionize.ResultPassed, view.Sessions[0].Result)
	})
}

func TestSessionsListStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, q models.Query) ([]models.Event, error) {
		assert.Equal(t, sessionize.DefaultWindow, q.Limit)
		return nil, errors.New("timeout")
	})

	_, err := NewSessions(st).List(context.Background(), SessionsRequest{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
