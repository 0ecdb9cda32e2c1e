package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type notice struct {
	Key string `json:"key"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"key": n.Key}
}

func TestEncodeAddsAttributes(t *testing.T) {
	t.Parallel()

	msg, err := encode(notice{Key: "A/2018/7/default"})
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"A/2018/7/default"}`, string(msg.Data))
	require.Equal(t, "A/2018/7/default", msg.Attributes["key"])

	msg, err = encode(map[string]int{"n": 1})
	require.NoError(t, err)
	require.Nil(t, msg.Attributes)

	_, err = encode(func() {})
	require.Error(t, err)
}

func TestUnconfiguredPublisher(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "topic", notice{})
	require.Error(t, err)
	require.NoError(t, p.Close())

	_, err = New(context.Background(), "")
	require.Error(t, err)
}
