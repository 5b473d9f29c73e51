package model

// RawExtraction is the scraper's output for a single hotel page.
type RawExtraction struct {
	URL         string   `json:"url"`
	Chain       string   `json:"chain,omitempty"`
	Name        string   `json:"hotel_name"`
	Description string   `json:"description,omitempty"`
	Address     string   `json:"address,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Amenities   []string `json:"amenities,omitempty"`
	Policies    Policies `json:"policies"`
	Rating      string   `json:"rating,omitempty"`
}

// Policies holds the policy sections of a hotel page. Parking and pet
// policies are label/value tables; smoking and wifi are free text.
type Policies struct {
	Parking map[string]string `json:"parking,omitempty"`
	Pets    map[string]string `json:"pets,omitempty"`
	Smoking string            `json:"smoking,omitempty"`
	WiFi    string            `json:"wifi,omitempty"`
}

// Address is a hotel address split into its components.
type Address struct {
	Line1       string `json:"address_line_1,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	StateCode   string `json:"state_code,omitempty"`
	Zip         string `json:"zip,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Locality returns the most specific locality available: city, then
// state, then country.
func (a Address) Locality() string {
	switch {
	case a.City != "":
		return a.City
	case a.State != "":
		return a.State
	default:
		return a.Country
	}
}
