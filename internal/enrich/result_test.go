package enrich_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/local-pulse/backend/internal/enrich"
)

func TestResultOrElse(t *testing.T) {
	require.Equal(t, 4, enrich.Ok(4).OrElse(func() int { return 0 }))
	require.Equal(t, 7, enrich.Fail[int](errors.New("x")).OrElse(func() int { return 7 }))
}

func TestThenPropagatesAndRejects(t *testing.T) {
	parse := func(s string) (int, error) { return strconv.Atoi(s) }

	r := enrich.Then(enrich.Ok("12"), parse)
	require.True(t, r.OK())
	require.Equal(t, 12, r.Value)

	r = enrich.Then(enrich.Ok("twelve"), parse)
	require.False(t, r.OK())

	upstream := errors.New("upstream")
	r = enrich.Then(enrich.Fail[string](upstream), parse)
	require.ErrorIs(t, r.Err, upstream)
}
