package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"fairdatastation/internal/apperr"
)

func TestBasicGrants(t *testing.T) {
	assert.NoError(t, Basic{}.CheckAccess(context.Background()))
}

func TestDeny(t *testing.T) {
	err := Deny("station closed").CheckAccess(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	assert.Equal(t, "station closed", apperr.Message(err)[len("Access Control: "):])
}
