package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"submit/internal/identity"
)

func TestParseInput(t *testing.T) {
	t.Run("combined reference wins", func(t *testing.T) {
		in := ParseInput("rec1:sub-1", "other", " Ada ", "Lovelace", " Ada@Example.COM ", "ysws")
		assert.Equal(t, "rec1", in.IDVRec)
		assert.Equal(t, "sub-1", in.SubmitID)
		assert.Equal(t, "Ada", in.FirstName)
		assert.Equal(t, "ada@example.com", in.Email)
		assert.True(t, in.Complete())
	})

	t.Run("only the first colon splits", func(t *testing.T) {
		in := ParseInput("rec1:sub:1", "", "", "", "", "")
		assert.Equal(t, "rec1", in.IDVRec)
		assert.Equal(t, "sub:1", in.SubmitID)
		assert.False(t, in.Complete())
	})

	t.Run("discrete parameters", func(t *testing.T) {
		in := ParseInput("rec1", "sub-1", "", "", "", "")
		assert.Equal(t, "rec1", in.IDVRec)
		assert.Equal(t, "sub-1", in.SubmitID)
	})
}

func TestInputMatches(t *testing.T) {
	id := identity.Identity{"first_name": " Ada", "last_name": "Lovelace ", "email": "ADA@example.com"}
	in := ParseInput("rec1:sub", "", "Ada", "Lovelace", "ada@example.com ", "")
	assert.True(t, in.Matches(id))

	in.LastName = "lovelace"
	assert.False(t, in.Matches(id))
}
