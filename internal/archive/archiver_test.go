package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
	pubmem "github.com/JakeFAU/competition-discovery/internal/publisher/memory"
	"github.com/JakeFAU/competition-discovery/internal/storage/memory"
)

func confirmed() discovery.CacheEntry {
	return discovery.CacheEntry{
		Key:         keyspace.New("CA", 2019, 42, "results"),
		Status:      discovery.StatusConfirmedExists,
		MatchCount:  18,
		DisplayName: "Coastal Cup",
		SessionID:   "sess-1",
	}
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "snapshots/2019/CA/42/results.html", ObjectPath("snapshots", confirmed().Key))
	require.Equal(t, "2019/CA/42/results.html", ObjectPath("", confirmed().Key))
}

func TestOnConfirmedStoresAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	pub := pubmem.New()
	a, err := New(Config{Prefix: "snapshots", Topic: "discoveries"}, blobs, SHA256{}, pub, nil)
	require.NoError(t, err)

	body := []byte("<table><tr><td>1</td></tr></table>")
	require.NoError(t, a.OnConfirmed(context.Background(), confirmed(), discovery.ProbeResult{Body: body}))

	stored, ok := blobs.Get("snapshots/2019/CA/42/results.html")
	require.True(t, ok)
	require.Equal(t, body, stored)

	msgs := pub.Messages("discoveries")
	require.Len(t, msgs, 1)
	var notice Notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &notice))
	require.Equal(t, "CA/2019/42/results", notice.Key)
	require.Equal(t, 18, notice.MatchCount)
	require.Equal(t, "memory://snapshots/2019/CA/42/results.html", notice.SnapshotURI)
	sum, err := SHA256{}.Hash(body)
	require.NoError(t, err)
	require.Equal(t, sum, notice.ContentSHA256)
}

func TestOnConfirmedWithoutTopicOrStore(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	a, err := New(Config{}, nil, SHA256{}, pub, nil)
	require.NoError(t, err)
	require.NoError(t, a.OnConfirmed(context.Background(), confirmed(), discovery.ProbeResult{Body: []byte("x")}))
	require.Empty(t, pub.Messages(""))
}

func TestOnConfirmedReportsPublishFailure(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	blobs := memory.NewBlobStore()
	a, err := New(Config{Topic: "discoveries"}, blobs, SHA256{}, pub, nil)
	require.NoError(t, err)

	err = a.OnConfirmed(context.Background(), confirmed(), discovery.ProbeResult{Body: []byte("body")})
	require.ErrorIs(t, err, boom)
	_, ok := blobs.Get("2019/CA/42/results.html")
	require.True(t, ok, "snapshot is still written")
}

func TestNewNeedsAStoreOrPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, nil)
	require.Error(t, err)

	a, err := New(Config{}, memory.NewBlobStore(), nil, nil, nil)
	require.NoError(t, err)
	require.IsType(t, SHA256{}, a.hasher)
}

func TestSHA256KnownDigests(t *testing.T) {
	t.Parallel()

	got, err := SHA256{}.Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)

	a, _ := SHA256{}.Hash([]byte("<table><tr><td>1</td></tr></table>"))
	b, _ := SHA256{}.Hash([]byte("<table><tr><td>2</td></tr></table>"))
	require.Len(t, a, 64)
	require.NotEqual(t, a, b)
}
