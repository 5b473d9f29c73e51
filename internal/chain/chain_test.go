package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	t.Parallel()

	c := Default()
	require.Len(t, c.Chains, 4)
	assert.NotEmpty(t, c.Generic.Name)
	for _, ch := range c.Chains {
		assert.NotEmpty(t, ch.Selectors.Name, ch.Key)
		assert.NotEmpty(t, ch.Selectors.Pets, ch.Key)
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	c := Default()
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.hilton.com/en/hotels/anchhhf-hilton-anchorage/", "hilton"},
		{"https://www.HamptonInn.com/denver", "hilton"},
		{"https://www.hyatt.com/en-US/hotel/california/hyatt-regency-san-francisco/sfors", "hyatt"},
		{"https://www.marriott.com/en-us/hotels/nycmq", "marriott"},
		{"https://www.ihg.com/holidayinn/hotels/us/en/austin", "ihg"},
	}
	for _, tt := range tests {
		ch := c.Detect(tt.url)
		require.NotNil(t, ch, tt.url)
		assert.Equal(t, tt.want, ch.Key)
	}
	assert.Nil(t, c.Detect("https://example.com/hotel"))
}

func TestDetectByName(t *testing.T) {
	t.Parallel()

	c := Default()
	require.NotNil(t, c.DetectByName("Grand Hyatt Tokyo"))
	assert.Equal(t, "hyatt", c.DetectByName("Grand Hyatt Tokyo").Key)
	assert.Equal(t, "ihg", c.DetectByName("holiday inn express").Key)
	assert.Nil(t, c.DetectByName("Motel 6"))
}

func TestSelectorsFor(t *testing.T) {
	t.Parallel()

	c := Default()
	key, sel := c.SelectorsFor("https://www.hilton.com/en/hotels/x")
	assert.Equal(t, "hilton", key)
	assert.Contains(t, sel.Pets, "#tab-panel-policies-tab-1 li")

	key, sel = c.SelectorsFor("https://example.com")
	assert.Equal(t, "", key)
	assert.Equal(t, c.Generic, sel)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	c := Default()
	v := c.Verify("https://www.hilton.com/x", "Hilton")
	assert.True(t, v.Matches)
	assert.Equal(t, "hilton", v.Detected)

	v = c.Verify("https://www.hilton.com/x", "hyatt")
	assert.False(t, v.Matches)

	v = c.Verify("https://example.com", "")
	assert.False(t, v.Matches)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("chains: [{key: x, url_patterns: ['(']}]"))
	assert.Error(t, err)

	_, err = Parse([]byte("chains: [{url_patterns: ['a']}]"))
	assert.Error(t, err)

	_, err = Parse([]byte(":::"))
	assert.Error(t, err)
}

func TestLookup_Discovery(t *testing.T) {
	t.Parallel()

	c := Default()
	ch := c.Lookup(" Hilton ")
	require.NotNil(t, ch)
	require.NotNil(t, ch.Discovery)
	assert.Equal(t, "https://www.hilton.com/en/locations/", ch.Discovery.IndexURL)
	assert.Equal(t, "US", ch.Discovery.Countries["usa"])
	assert.NotEmpty(t, ch.Discovery.HotelCards)

	assert.Nil(t, c.Lookup("hyatt").Discovery)
	assert.Nil(t, c.Lookup("motel6"))
}

func TestParse_InvalidDiscovery(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
chains:
  - key: demo
    discovery:
      index_url: /locations/
      hotel_cards: ["h3"]
`))
	assert.ErrorContains(t, err, "not absolute")

	_, err = Parse([]byte(`
chains:
  - key: demo
    discovery:
      index_url: https://demo.example.com/locations/
`))
	assert.ErrorContains(t, err, "hotel_cards")
}
