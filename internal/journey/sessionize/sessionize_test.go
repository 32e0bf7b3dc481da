package sessionize

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submit/internal/journey/models"
)

var t0 = time.Date(2025, 8, 27, 9, 0, 0, 0, time.UTC)

func ev(id int64, typ string, at time.Duration, opts ...func(*models.Event)) models.Event {
	e := models.Event{ID: id, Type: typ, CreatedAt: t0.Add(at), Metadata: models.Metadata{}}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func program(p string) func(*models.Event) { return func(e *models.Event) { e.Program = p } }
func email(v string) func(*models.Event)   { return func(e *models.Event) { e.Email = v } }
func idv(v string) func(*models.Event)     { return func(e *models.Event) { e.IDVRec = v } }
func ip(v string) func(*models.Event)      { return func(e *models.Event) { e.RequestIP = v } }
func meta(k string, v any) func(*models.Event) {
	return func(e *models.Event) { e.Metadata[k] = v }
}

func TestSubmitIDMergesAcrossHoursAndPrograms(t *testing.T) {
	sessions := Sessionize([]models.Event{
		ev(1, "program_page", 0, program("ysws"), ip("198.51.100.1"), meta("submit_id", "tok1")),
		ev(2, "verification_attempt", 5*time.Hour, program("other"), email("a@b.c"), ip("203.0.113.9"),
			meta("submit_id", "tok1"), meta("verified", true)),
	})
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Events, 2)
	assert.Equal(t, "tok1", sessions[0].SubmitID)
	assert.Equal(t, "a@b.c", sessions[0].Email)
}

func TestIdleGapSplitsSessions(t *testing.T) {
	sessions := Sessionize([]models.Event{
		ev(1, "oauth_start", 0, program("ysws"), ip("198.51.100.1")),
		ev(2, "oauth_start", 45*time.Minute, program("ysws"), ip("198.51.100.1")),
	})
	require.Len(t, sessions, 2)
	assert.Equal(t, t0.Add(45*time.Minute), sessions[0].LastAt, "most recent first")
}

func TestIdentifierMatching(t *testing.T) {
	t.Run("email within window joins", func(t *testing.T) {
		sessions := Sessionize([]models.Event{
			ev(1, "oauth_passed", 0, program("ysws"), email("a@b.c"), meta("verification_status", "verified")),
			ev(2, "redirect_to_form", 10*time.Minute, program("ysws"), email("a@b.c"), ip("10.0.0.1")),
		})
		require.Len(t, sessions, 1)
	})

	t.Run("identity reference joins", func(t *testing.T) {
		sessions := Sessionize([]models.Event{
			ev(1, "oauth_passed", 0, idv("rec1")),
			ev(2, "verification_attempt", 20*time.Minute, idv("rec1"), email("a@b.c")),
		})
		require.Len(t, sessions, 1)
	})

	t.Run("different programs never join without submit id", func(t *testing.T) {
		sessions := Sessionize([]models.Event{
			ev(1, "oauth_passed", 0, program("ysws"), email("a@b.c")),
			ev(2, "oauth_passed", time.Minute, program("other"), email("a@b.c")),
		})
		require.Len(t, sessions, 2)
	})

	t.Run("unset program on either side is compatible", func(t *testing.T) {
		sessions := Sessionize([]models.Event{
			ev(1, "oauth_callback", 0, ip("10.0.0.1")),
			ev(2, "oauth_start", time.Minute, program("ysws"), ip("10.0.0.1")),
		})
		require.Len(t, sessions, 1)
		assert.Equal(t, "ysws", sessions[0].Program)
	})

	t.Run("ip only when neither side has identifiers", func(t *testing.T) {
		sessions := Sessionize([]models.Event{
			ev(1, "program_page", 0, program("ysws"), ip("10.0.0.1")),
			ev(2, "oauth_passed", time.Minute, program("ysws"), ip("10.0.0.1"), email("a@b.c")),
		})
		require.Len(t, sessions, 2)
	})

	t.Run("anonymous events from one ip merge", func(t *testing.T) {
		sessions := Sessionize([]models.Event{
			ev(1, "program_page", 0, program("ysws"), ip("10.0.0.1")),
			ev(2, "oauth_start", 2*time.Minute, program("ysws"), ip("10.0.0.1")),
		})
		require.Len(t, sessions, 1)
		assert.Equal(t, ResultPending, sessions[0].Result)
	})
}

func TestMostRecentlyUpdatedSessionWins(t *testing.T) {
	sessions := Sessionize([]models.Event{
		ev(1, "oauth_passed", 0, email("a@b.c"), meta("submit_id", "by-email")),
		ev(2, "oauth_passed", 5*time.Minute, idv("rec1"), meta("submit_id", "by-idv")),
		ev(3, "redirect_to_form", 10*time.Minute, email("a@b.c"), idv("rec1")),
	})
	require.Len(t, sessions, 2)
	assert.Equal(t, "by-idv", sessions[0].SubmitID)
	assert.Len(t, sessions[0].Events, 2)
	assert.Equal(t, "a@b.c", sessions[0].Email)
}

func TestEverySubmitIDOnASessionIsIndexed(t *testing.T) {
	sessions := Sessionize([]models.Event{
		ev(1, "oauth_passed", 0, email("a@b.c"), meta("submit_id", "tok1")),
		ev(2, "oauth_passed", time.Minute, email("a@b.c"), meta("submit_id", "tok2")),
		ev(3, "verification_attempt", 6*time.Hour, meta("submit_id", "tok2")),
	})
	require.Len(t, sessions, 1)
	assert.Equal(t, "tok1", sessions[0].SubmitID)
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name   string
		events []models.Event
		want   Result
	}{
		{
			name: "latest oauth passed",
			events: []models.Event{
				ev(1, "oauth_failed", 0, email("a@b.c"), meta("reason", "rejected")),
				ev(2, "oauth_passed", time.Minute, email("a@b.c"), meta("verification_status", "verified")),
			},
			want: ResultPassed,
		},
		{
			name: "failed rejected",
			events: []models.Event{
				ev(1, "oauth_failed", 0, email("a@b.c"), meta("reason", "rejected"), meta("rejection_reason", "blurry")),
			},
			want: ResultFailedRejected,
		},
		{
			name:   "failed over 18",
			events: []models.Event{ev(1, "oauth_failed", 0, email("a@b.c"), meta("reason", "over_18"))},
			want:   ResultFailedIneligible,
		},
		{
			name:   "failed pending",
			events: []models.Event{ev(1, "oauth_failed", 0, email("a@b.c"), meta("reason", "pending_verification"))},
			want:   ResultPending,
		},
		{
			name:   "failed other",
			events: []models.Event{ev(1, "oauth_failed", 0, email("a@b.c"), meta("reason", "token_exchange_failed"))},
			want:   ResultFailed,
		},
		{
			name: "attempt ineligible without oauth outcome",
			events: []models.Event{
				ev(1, "verification_attempt", 0, email("a@b.c"), meta("error", "ysws_ineligible")),
			},
			want: ResultFailedIneligible,
		},
		{
			name: "attempt fetch failure",
			events: []models.Event{
				ev(1, "verification_attempt", 0, email("a@b.c"), meta("error", "fetch_failed")),
			},
			want: ResultFailed,
		},
		{
			name: "attempt pending status",
			events: []models.Event{
				ev(1, "verification_attempt", 0, email("a@b.c"), meta("error", "not_verified"), meta("status", "pending")),
			},
			want: ResultPending,
		},
		{
			name:   "stage only",
			events: []models.Event{ev(1, "oauth_callback", 0, ip("10.0.0.1"))},
			want:   ResultPending,
		},
		{
			name:   "program page only",
			events: []models.Event{ev(1, "program_page", 0, ip("10.0.0.1"))},
			want:   ResultNone,
		},
		{
			name: "unrecognized kinds never set flags",
			events: []models.Event{
				ev(1, "admin_note", 0, ip("10.0.0.1"), meta("reason", "rejected"), meta("error", "boom"), meta("first_name", "Ada")),
			},
			want: ResultNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := Sessionize(tt.events)
			require.Len(t, sessions, 1)
			assert.Equal(t, tt.want, sessions[0].Result)
		})
	}
}

func TestUnrecognizedUpdatesGenericFields(t *testing.T) {
	sessions := Sessionize([]models.Event{
		ev(1, "admin_note", 0, ip("10.0.0.1"), meta("first_name", "Ada"), meta("slack_id", "U1")),
	})
	require.Len(t, sessions, 1)
	assert.Equal(t, "Ada", sessions[0].FirstName)
	assert.Equal(t, "U1", sessions[0].SlackID)
	assert.False(t, sessions[0].SawStage)
}

func TestInputOrderDoesNotMatter(t *testing.T) {
	a := ev(1, "oauth_start", 0, program("ysws"), ip("10.0.0.1"), meta("submit_id", "tok1"))
	b := ev(2, "oauth_passed", time.Minute, program("ysws"), email("a@b.c"), meta("submit_id", "tok1"), meta("verification_status", "verified"))

	sessions := Sessionize([]models.Event{b, a})
	require.Len(t, sessions, 1)
	assert.Equal(t, t0, sessions[0].FirstAt)
	assert.Equal(t, ResultPassed, sessions[0].Result)
	assert.Equal(t, int64(1), sessions[0].Events[0].ID)
}

func TestApply(t *testing.T) {
	sessions := Sessionize([]models.Event{
		ev(1, "oauth_passed", 0, program("ysws"), email("ada@b.c"), meta("verification_status", "verified")),
		ev(2, "oauth_failed", time.Hour, program("ysws"), email("bob@b.c"), meta("reason", "over_18"), meta("slack_id", "UBOB")),
		ev(3, "oauth_start", 2*time.Hour, program("other"), ip("10.0.0.1")),
	})
	require.Len(t, sessions, 3)

	assert.Len(t, Apply(sessions, Filter{Result: "failed"}), 1)
	assert.Len(t, Apply(sessions, Filter{Result: "passed"}), 1)
	assert.Len(t, Apply(sessions, Filter{Result: "pending"}), 1)
	assert.Len(t, Apply(sessions, Filter{Text: "ubob"}), 1)
	assert.Len(t, Apply(sessions, Filter{Text: "YSWS"}), 2)
	assert.Len(t, Apply(sessions, Filter{}), 3)
}

func TestPaginate(t *testing.T) {
	var events []models.Event
	for i := 0; i < 23; i++ {
		events = append(events, ev(int64(i), "oauth_start", time.Duration(i)*time.Hour, ip(fmt.Sprintf("10.0.0.%d", i))))
	}
	sessions := Sessionize(events)
	require.Len(t, sessions, 23)

	p := Paginate(sessions, 3)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 3, p.TotalPages)
	assert.Len(t, p.Sessions, 3)

	p = Paginate(sessions, 99)
	assert.Equal(t, 3, p.Page)

	p = Paginate(sessions, 0)
	assert.Equal(t, 1, p.Page)
	assert.Len(t, p.Sessions, PageSize)

	p = Paginate(nil, 2)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 0, p.TotalPages)
	assert.Empty(t, p.Sessions)
}
