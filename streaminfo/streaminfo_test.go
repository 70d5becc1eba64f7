package streaminfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInfo() *Info {
	i := New("TestStream", "EEG", 3, FormatDouble64, 100, "srcid1", "sid1", "host1")
	i.V4DataPort = 16572
	i.Extra = map[string]string{"manufacturer": "Acme"}
	return i
}

func TestShortInfoRoundTrip(t *testing.T) {
	i := newTestInfo()

	short, err := i.ToShortInfoMessage()
	require.NoError(t, err)
	require.NotEmpty(t, short)

	got, err := FromShortInfoMessage(short)
	require.NoError(t, err)

	require.Equal(t, i.Name, got.Name)
	require.Equal(t, i.Type, got.Type)
	require.Equal(t, i.ChannelCount, got.ChannelCount)
	require.Equal(t, i.Format, got.Format)
	require.Equal(t, i.NominalRate, got.NominalRate)
	require.Equal(t, i.SourceID, got.SourceID)
	require.Equal(t, i.SessionID, got.SessionID)
	require.Equal(t, i.UIDValue, got.UIDValue)
	require.Equal(t, i.Hostname, got.Hostname)
	require.Equal(t, i.V4DataPort, got.V4DataPort)

	// shortinfo omits Extra; only fullinfo carries it.
	require.Empty(t, got.Extra)
}

func TestFullInfoRoundTripCarriesExtra(t *testing.T) {
	i := newTestInfo()

	full, err := i.ToFullInfoMessage()
	require.NoError(t, err)

	got, err := FromShortInfoMessage(full)
	require.NoError(t, err)
	require.Equal(t, i.Extra, got.Extra)
}

func TestMatchesQueryWildcard(t *testing.T) {
	i := newTestInfo()
	require.True(t, i.MatchesQuery("*"))
}

func TestMatchesQuerySingleComparison(t *testing.T) {
	i := newTestInfo()
	require.True(t, i.MatchesQuery("name='TestStream'"))
	require.False(t, i.MatchesQuery("name='Other'"))
}

func TestMatchesQueryConjunction(t *testing.T) {
	i := newTestInfo()
	require.True(t, i.MatchesQuery("name='TestStream' and type='EEG'"))
	require.False(t, i.MatchesQuery("name='TestStream' and type='ECG'"))
}

func TestMatchesQueryDisjunction(t *testing.T) {
	i := newTestInfo()
	require.True(t, i.MatchesQuery("type='ECG' or type='EEG'"))
}

func TestMatchesQueryParenthesizedGrouping(t *testing.T) {
	i := newTestInfo()
	require.True(t, i.MatchesQuery("(type='ECG' or type='EEG') and session_id='sid1'"))
	require.False(t, i.MatchesQuery("(type='ECG' or type='EEG') and session_id='other'"))
}

func TestMatchesQueryMalformedIsNonMatch(t *testing.T) {
	i := newTestInfo()
	require.False(t, i.MatchesQuery("name="))
}

func TestChannelFormatBytes(t *testing.T) {
	require.Equal(t, 4, FormatFloat32.Bytes())
	require.Equal(t, 8, FormatDouble64.Bytes())
	require.Equal(t, 0, FormatString.Bytes())
	require.Equal(t, 2, FormatInt16.Bytes())
}

func TestChannelFormatHasSubnormalsOnlyForFloats(t *testing.T) {
	require.True(t, FormatFloat32.HasSubnormals())
	require.True(t, FormatDouble64.HasSubnormals())
	require.False(t, FormatInt32.HasSubnormals())
	require.False(t, FormatString.HasSubnormals())
}

func TestProperty(t *testing.T) {
	i := newTestInfo()

	v, ok := i.Property("name")
	require.True(t, ok)
	require.Equal(t, "TestStream", v)

	_, ok = i.Property("unknown_property")
	require.False(t, ok)
}
