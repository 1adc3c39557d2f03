package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchErrorMessage(t *testing.T) {
	err := &FetchError{URL: "https://example.com/x", StatusCode: 404}
	assert.Equal(t, "failed to fetch https://example.com/x: HTTP 404", err.Error())
	assert.ErrorIs(t, err, ErrFetch)

	cause := errors.New("dial tcp: connection refused")
	err = &FetchError{URL: "https://example.com", Err: cause}
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, cause)
}

func TestStageError(t *testing.T) {
	assert.NoError(t, Stage(StageSearch, nil))

	err := fmt.Errorf("query: %w", Stage(StageEmbedding, fmt.Errorf("%w: boom", ErrEmbedding)))
	assert.Equal(t, StageEmbedding, StageOf(err))
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Equal(t, "", StageOf(errors.New("plain")))
}

func TestValidationf(t *testing.T) {
	err := Validationf("top_k must be between %d and %d", 1, 50)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "top_k must be between 1 and 50")
}

func TestChain(t *testing.T) {
	root := errors.New("root")
	err := fmt.Errorf("outer: %w", Stage(StageIndex, root))
	chain := Chain(err)
	require.Len(t, chain, 3)
	assert.Equal(t, "root", chain[2])

	fe := &FetchError{URL: "u", StatusCode: 500}
	assert.Equal(t, []string{fe.Error(), ErrFetch.Error()}, Chain(fe))
}
