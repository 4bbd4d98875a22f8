package types_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/decloud-network/validator/types"
)

func TestKindOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, types.KindUnknown, types.KindOf(nil))
	require.Equal(t, types.KindUnknown, types.KindOf(errors.New("boom")))
	require.Equal(t, types.KindAuthorization, types.KindOf(fmt.Errorf("abort: %w", types.ErrNotRoundValidator)))
	require.Equal(t, types.KindTransient, types.KindOf(context.DeadlineExceeded))

	err := types.E(types.KindCapacity, "claim", errors.New("full"))
	require.Equal(t, types.KindCapacity, types.KindOf(err))
	require.EqualError(t, err, "claim: full")

	wrapped := types.E(types.KindUnknown, "download", types.ErrIntegrity)
	require.Equal(t, types.KindIntegrity, types.KindOf(wrapped))
	require.ErrorIs(t, wrapped, types.ErrIntegrity)

	require.NoError(t, types.E(types.KindTransient, "op", nil))
}
