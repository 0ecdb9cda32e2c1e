package keyspace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCompareOrdersRecentSeasonsFirst(t *testing.T) {
	t.Parallel()

	keys := []CandidateKey{
		New("B", 2017, 5, ""),
		New("A", 2018, 1701, "scorers"),
		New("A", 2018, 1701, ""),
		New("A", 2018, 12, ""),
		New("C", 2018, 12, ""),
		New("A", 2019, 9999, ""),
	}
	got := Sort(keys)

	want := []CandidateKey{
		New("A", 2019, 9999, ""),
		New("A", 2018, 12, ""),
		New("C", 2018, 12, ""),
		New("A", 2018, 1701, ""),
		New("A", 2018, 1701, "scorers"),
		New("B", 2017, 5, ""),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sorted keys mismatch (-want +got):\n%s", diff)
	}
}

func TestSortDropsDuplicates(t *testing.T) {
	t.Parallel()

	got := Sort([]CandidateKey{New("A", 2018, 1, ""), New("A", 2018, 1, "default"), New("A", 2018, 2, "")})
	require.Len(t, got, 2)
}

func TestCompareIsTotal(t *testing.T) {
	t.Parallel()

	a := New("A", 2018, 1, "")
	b := New("B", 2018, 1, "")
	require.Equal(t, -1, Compare(a, b))
	require.Equal(t, 1, Compare(b, a))
	require.Equal(t, 0, Compare(a, a))
	require.True(t, Less(a, b))
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	key := New("A", 2018, 1701, "standings")
	parsed, err := Parse(key.String())
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	_, err = Parse("A/2018/x/default")
	require.Error(t, err)
	_, err = Parse("A/2018")
	require.Error(t, err)
	_, err = Parse("/2018/1/default")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, New("A", 2018, 0, "").Validate())
	require.Error(t, CandidateKey{District: "A", SeasonYear: 2018, CompetitionID: 1}.Validate())
	require.Error(t, New("A", 0, 1, "").Validate())
	require.Error(t, New("A", 2018, -1, "").Validate())
}
