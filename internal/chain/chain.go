// Package chain detects the hotel chain behind a URL or hotel name and
// exposes the page selectors registered for it.
package chain

import (
	_ "embed"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed chains.yaml
var catalogueYAML []byte

// Selectors lists CSS selectors per page field, in priority order.
type Selectors struct {
	Name        []string `yaml:"name"`
	Description []string `yaml:"description"`
	Address     []string `yaml:"address"`
	Phone       []string `yaml:"phone"`
	Amenities   []string `yaml:"amenities"`
	Rating      []string `yaml:"rating"`
	Parking     []string `yaml:"parking"`
	Pets        []string `yaml:"pets"`
	Smoking     []string `yaml:"smoking"`
	WiFi        []string `yaml:"wifi"`
}

// Discovery describes a chain's public location directory: an index of
// country, state and city pages whose listings link to property pages.
type Discovery struct {
	IndexURL string `yaml:"index_url"`
	// LocationLinks select links to deeper directory pages under IndexURL.
	LocationLinks []string `yaml:"location_links"`
	// HotelCards select one element per listed property; its text is the
	// hotel name.
	HotelCards []string `yaml:"hotel_cards"`
	// HotelLink finds the property link near a card that is not itself
	// inside a link.
	HotelLink string `yaml:"hotel_link"`
	// NextPage selects the link to the next page of a listing.
	NextPage []string `yaml:"next_page"`
	// MaxDepth bounds how many path segments below IndexURL are walked.
	MaxDepth int `yaml:"max_depth"`
	// Countries maps the first directory segment to an ISO country code.
	Countries map[string]string `yaml:"countries"`
}

// Chain is one catalogue entry.
type Chain struct {
	Key          string     `yaml:"key"`
	URLPatterns  []string   `yaml:"url_patterns"`
	NamePatterns []string   `yaml:"name_patterns"`
	Selectors    Selectors  `yaml:"selectors"`
	Discovery    *Discovery `yaml:"discovery"`

	urlRes  []*regexp.Regexp
	nameRes []*regexp.Regexp
}

// Catalogue is the set of known chains plus the fallback selectors for
// pages that match none of them.
type Catalogue struct {
	Chains  []*Chain  `yaml:"chains"`
	Generic Selectors `yaml:"generic"`
}

// Verification is the result of checking a URL against an expected chain.
type Verification struct {
	URL      string `json:"url"`
	Detected string `json:"detected_chain"`
	Expected string `json:"expected_chain,omitempty"`
	Matches  bool   `json:"matches"`
}

// Parse decodes a catalogue and compiles its patterns.
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "chain: decode catalogue")
	}
	for _, ch := range c.Chains {
		if ch.Key == "" {
			return nil, eris.New("chain: entry without key")
		}
		for _, p := range ch.URLPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, eris.Wrapf(err, "chain: %s url pattern %q", ch.Key, p)
			}
			ch.urlRes = append(ch.urlRes, re)
		}
		for _, p := range ch.NamePatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "chain: %s name pattern %q", ch.Key, p)
			}
			ch.nameRes = append(ch.nameRes, re)
		}
		if d := ch.Discovery; d != nil {
			u, err := url.Parse(d.IndexURL)
			if err != nil || !u.IsAbs() {
				return nil, eris.Errorf("chain: %s discovery index_url %q is not absolute", ch.Key, d.IndexURL)
			}
			if len(d.HotelCards) == 0 {
				return nil, eris.Errorf("chain: %s discovery has no hotel_cards selectors", ch.Key)
			}
		}
	}
	return &c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalogue
)

// Default returns the embedded catalogue.
func Default() *Catalogue {
	defaultOnce.Do(func() {
		c, err := Parse(catalogueYAML)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// Lookup returns the chain registered under key, or nil.
func (c *Catalogue) Lookup(key string) *Chain {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, ch := range c.Chains {
		if ch.Key == key {
			return ch
		}
	}
	return nil
}

// Detect returns the chain whose URL patterns match rawURL, or nil.
func (c *Catalogue) Detect(rawURL string) *Chain {
	u := strings.ToLower(rawURL)
	for _, ch := range c.Chains {
		for _, re := range ch.urlRes {
			if re.MatchString(u) {
				return ch
			}
		}
	}
	return nil
}

// DetectByName returns the chain whose name patterns match name, or nil.
func (c *Catalogue) DetectByName(name string) *Chain {
	for _, ch := range c.Chains {
		for _, re := range ch.nameRes {
			if re.MatchString(name) {
				return ch
			}
		}
	}
	return nil
}

// SelectorsFor returns the selectors for rawURL's chain, falling back to
// the generic set.
func (c *Catalogue) SelectorsFor(rawURL string) (string, Selectors) {
	if ch := c.Detect(rawURL); ch != nil {
		return ch.Key, ch.Selectors
	}
	return "", c.Generic
}

// Verify checks rawURL against expected. An empty expected chain matches
// any detected chain.
func (c *Catalogue) Verify(rawURL, expected string) Verification {
	v := Verification{URL: rawURL, Expected: strings.ToLower(expected)}
	if ch := c.Detect(rawURL); ch != nil {
		v.Detected = ch.Key
	}
	if v.Expected == "" {
		v.Matches = v.Detected != ""
	} else {
		v.Matches = v.Detected == v.Expected
	}
	return v
}
