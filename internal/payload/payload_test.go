package payload

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestSampleDecodes(t *testing.T) {
	s, err := Sample()
	require.NoError(t, err)
	require.Equal(t, "1", s.House)
	require.Equal(t, 10, s.Len())
	require.Equal(t, "2019-03-02 14:30:00", s.Records.Timestamps[0])
	require.Equal(t, "2019-03-02 14:39:00", s.Records.Timestamps[9])
	require.Equal(t, "15.18", s.Records.Temperature[3].String())
	require.Equal(t, "Norte", s.Records.Winddirection[9])
	require.False(t, s.Records.Occupancy[0])
}

func TestSampleEncodesBareNumbers(t *testing.T) {
	s, err := Sample()
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	out := string(data)
	require.True(t, strings.HasPrefix(out, `{"house":"1","records":{"timestamps":["2019-03-02 14:30:00"`))
	require.Contains(t, out, `"temperature":[15.18,15.18`)
	require.Contains(t, out, `"out_pressure":[1029.5,`)
	require.Contains(t, out, `"precipitation":[0,0,0,0,0,0,0,0,0,0]`)
	require.NotContains(t, out, `"15.18"`)
	require.Equal(t, 986, len(data), "compact sample must fit the default 1024 byte element")
}

func TestValidateRejectsRaggedSeries(t *testing.T) {
	s, err := Sample()
	require.NoError(t, err)
	s.Records.Humidity = s.Records.Humidity[:9]
	require.ErrorContains(t, s.Validate(), "humidity has 9 readings, expected 10")

	require.Error(t, Telemetry{}.Validate())
}

func TestNumberAcceptsQuotedInput(t *testing.T) {
	var n Number
	require.NoError(t, json.Unmarshal([]byte(`"4.30"`), &n))
	require.True(t, n.Equal(MustNumber("4.3").Decimal))
	_, err := NewNumber("abc")
	require.Error(t, err)
}
