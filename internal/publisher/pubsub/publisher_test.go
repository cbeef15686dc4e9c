package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRequiresClient(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "runs", map[string]string{"k": "v"})
	require.Error(t, err)

	unconfigured := New(nil)
	_, err = unconfigured.Publish(context.Background(), "runs", "payload")
	require.Error(t, err)
	assert.NoError(t, unconfigured.Close())
}
