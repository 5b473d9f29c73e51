// Package address splits scraped one-line hotel addresses into components.
package address

import (
	"regexp"
	"strings"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

var (
	zipRe      = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	stateZipRe = regexp.MustCompile(`^(.+?)\s+(\d{5}(?:-\d{4})?)$`)
)

// Parse splits a comma-separated address of the form
// "line 1, city, state, zip, country". Trailing components may be missing;
// a state and ZIP sharing one component ("AK 99501") are separated.
func Parse(s string) model.Address {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return model.Address{}
	}

	var a model.Address
	a.Line1 = parts[0]
	rest := parts[1:]

	if len(rest) > 0 {
		a.City = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if m := stateZipRe.FindStringSubmatch(rest[0]); m != nil {
			a.State, a.Zip = m[1], m[2]
		} else {
			a.State = rest[0]
		}
		rest = rest[1:]
	}
	if len(rest) > 0 && a.Zip == "" && zipRe.MatchString(rest[0]) {
		a.Zip = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		a.Country = rest[len(rest)-1]
	}

	a.StateCode = StateCode(a.State)
	a.CountryCode = CountryCode(a.Country)
	return a
}

// CountryCode maps a country name to a two-letter code. Well-known names
// are mapped explicitly; anything else uses its first two letters. An empty
// country defaults to US.
func CountryCode(country string) string {
	c := strings.TrimSpace(country)
	if c == "" {
		return "US"
	}
	switch strings.ToUpper(strings.ReplaceAll(c, ".", "")) {
	case "USA", "US", "UNITED STATES", "UNITED STATES OF AMERICA":
		return "US"
	case "UK", "UNITED KINGDOM", "GREAT BRITAIN", "ENGLAND", "SCOTLAND", "WALES":
		return "GB"
	}
	letters := []rune(strings.ToUpper(c))
	if len(letters) < 2 {
		return string(letters)
	}
	return string(letters[:2])
}

// StateCode returns the USPS code for a US state or territory name. Two
// letter codes pass through; unknown names yield "".
func StateCode(state string) string {
	s := strings.TrimSpace(state)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if len(upper) == 2 {
		for _, code := range stateCodes {
			if code == upper {
				return code
			}
		}
		return ""
	}
	return stateCodes[strings.ToLower(s)]
}

var stateCodes = map[string]string{
	"alabama":                  "AL",
	"alaska":                   "AK",
	"arizona":                  "AZ",
	"arkansas":                 "AR",
	"california":               "CA",
	"colorado":                 "CO",
	"connecticut":              "CT",
	"delaware":                 "DE",
	"district of columbia":     "DC",
	"florida":                  "FL",
	"georgia":                  "GA",
	"hawaii":                   "HI",
	"idaho":                    "ID",
	"illinois":                 "IL",
	"indiana":                  "IN",
	"iowa":                     "IA",
	"kansas":                   "KS",
	"kentucky":                 "KY",
	"louisiana":                "LA",
	"maine":                    "ME",
	"maryland":                 "MD",
	"massachusetts":            "MA",
	"michigan":                 "MI",
	"minnesota":                "MN",
	"mississippi":              "MS",
	"missouri":                 "MO",
	"montana":                  "MT",
	"nebraska":                 "NE",
	"nevada":                   "NV",
	"new hampshire":            "NH",
	"new jersey":               "NJ",
	"new mexico":               "NM",
	"new york":                 "NY",
	"north carolina":           "NC",
	"north dakota":             "ND",
	"ohio":                     "OH",
	"oklahoma":                 "OK",
	"oregon":                   "OR",
	"pennsylvania":             "PA",
	"rhode island":             "RI",
	"south carolina":           "SC",
	"south dakota":             "SD",
	"tennessee":                "TN",
	"texas":                    "TX",
	"utah":                     "UT",
	"vermont":                  "VT",
	"virginia":                 "VA",
	"washington":               "WA",
	"west virginia":            "WV",
	"wisconsin":                "WI",
	"wyoming":                  "WY",
	"puerto rico":              "PR",
	"guam":                     "GU",
	"us virgin islands":        "VI",
	"american samoa":           "AS",
	"northern mariana islands": "MP",
}
