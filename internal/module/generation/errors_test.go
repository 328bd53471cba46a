package generation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := NewError(KindProvider, "quota exceeded", nil)

	assert.ErrorIs(t, err, ErrProvider)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrProvider)
	assert.NotErrorIs(t, err, NewError(KindProvider, "other", nil))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, "quota", NewError(KindProvider, "quota", cause).Error())
	assert.Equal(t, "boom", NewError(KindProvider, "", cause).Error())
	assert.Equal(t, "timeout error", NewError(KindTimeout, "", nil).Error())
	assert.ErrorIs(t, NewError(KindNetwork, "x", cause), cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuth, KindOf(fmt.Errorf("x: %w", NewError(KindAuth, "", nil))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestReclassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, ""},
		{"plain without signature", errors.New("bad request"), ""},
		{"plain with signature", errors.New("404: Requested entity was not found."), KindAuth},
		{"provider with signature", NewError(KindProvider, "Requested entity was not found.", nil), KindAuth},
		{"network without signature", NewError(KindNetwork, "Failed to download video: Not Found", nil), KindNetwork},
		{"already auth", NewError(KindAuth, "expired", nil), KindAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(reclassify(tt.err)))
		})
	}
}

func TestHTTPError(t *testing.T) {
	assert.Equal(t, "Not Found", (&HTTPError{StatusCode: 404}).Error())
	assert.Equal(t, "quota", (&HTTPError{StatusCode: 429, Message: "quota"}).Error())
	assert.Equal(t, "HTTP 599", (&HTTPError{StatusCode: 599}).StatusText())
}
