package searchclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopClientFindCandidatesReturnsNothing(t *testing.T) {
	c := NewNoop()
	got, err := c.FindCandidates(context.Background(), "Acme Ltda", "São Paulo", "12345678000199")
	require.NoError(t, err)
	require.Nil(t, got)
}
