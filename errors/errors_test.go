package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, Validation("bad_input", "bad input").HTTPStatus())
	assert.Equal(t, 403, Authorization("not_owner", "not the owner").HTTPStatus())
	assert.Equal(t, 404, NotFound("race_not_found", "no such race").HTTPStatus())
	assert.Equal(t, 409, StateConflict("invalid_state", "wrong state").HTTPStatus())
	assert.Equal(t, 409, Integrity("duplicate_channel", "channel in use").HTTPStatus())
	assert.Equal(t, 502, External("racetime_fetch_failed", "fetch failed", nil).HTTPStatus())
}

func TestUnwrapAndUserMessage(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := External("seed_generation_failed", "generator unreachable", cause).
		WithUserMsg("Could not roll a seed, try again in a minute.")

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "Could not roll a seed, try again in a minute.", err.UserMessage())
	assert.Contains(t, err.Error(), "seed_generation_failed")
	assert.Contains(t, err.Error(), "connection refused")

	bare := StateConflict("invalid_state", "race is not pending")
	assert.Equal(t, "race is not pending", bare.UserMessage())
}
