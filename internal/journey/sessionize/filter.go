package sessionize

import "strings"

// Filter narrows sessions after reduction.
type Filter struct {
	// Text is a case-insensitive substring over program, email, identity
	// reference, IP, submit id and slack id.
	Text string
	// Result is a coarse bucket: passed, failed or pending.
	Result string
}

// Apply returns the sessions matching f, preserving order.
func Apply(sessions []*Session, f Filter) []*Session {
	needle := strings.ToLower(strings.TrimSpace(f.Text))
	bucket := strings.TrimSpace(f.Result)

	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if bucket != "" && s.Result.Bucket() != bucket {
			continue
		}
		if needle != "" && !s.mentions(needle) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (s *Session) mentions(needle string) bool {
	for _, v := range []string{s.Program, s.Email, s.IDVRec, s.IP, s.SubmitID, s.SlackID} {
		if v != "" && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// Page is one page of sessions.
type Page struct {
	Sessions   []*Session
	Page       int
	TotalPages int
	TotalCount int
}

// Paginate clamps page into range and slices PageSize sessions.
func Paginate(sessions []*Session, page int) Page {
	total := len(sessions)
	pages := (total + PageSize - 1) / PageSize
	if page < 1 {
		page = 1
	}
	if pages > 0 && page > pages {
		page = pages
	}
	start := (page - 1) * PageSize
	end := min(start+PageSize, total)
	var slice []*Session
	if start < end {
		slice = sessions[start:end]
	}
	return Page{Sessions: slice, Page: page, TotalPages: pages, TotalCount: total}
}
