package model

import "time"

// HotelLocation is a property page found by walking a chain's location
// directory. Its URL feeds the extraction pipeline.
type HotelLocation struct {
	URL         string    `json:"url"`
	Name        string    `json:"hotel_name"`
	Chain       string    `json:"chain"`
	CountryCode string    `json:"country_code,omitempty"`
	State       string    `json:"state,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}
