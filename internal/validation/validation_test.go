package validation

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	errs := Errors{}
	require.NoError(t, errs.Err())

	errs.Check(true, "title", "required")
	errs.Check(false, "price", "must not be negative")
	errs.Add("price", "second message is ignored")
	errs.Add("author", "required")

	err := errs.Err()
	require.Error(t, err)

	var vErr *Error
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "must not be negative", vErr.Fields["price"])
	assert.NotContains(t, vErr.Fields, "title")
	assert.Equal(t, "validation failed: author: required; price: must not be negative", err.Error())
}
