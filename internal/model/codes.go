package model

// Code is a predefined attribute value with its display label.
type Code struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// CodeSet is an ordered list of predefined codes.
type CodeSet []Code

// Has reports whether code is in the set.
func (s CodeSet) Has(code string) bool {
	for _, c := range s {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Label returns the display label for code, or "".
func (s CodeSet) Label(code string) string {
	for _, c := range s {
		if c.Code == code {
			return c.Label
		}
	}
	return ""
}

// SpeciesCodes are the values of allowed_species.
var SpeciesCodes = CodeSet{
	{"PET_TYPE_DOG", "Dog"},
	{"PET_TYPE_CAT", "Cat"},
	{"PET_TYPE_BIRD", "Bird"},
	{"PET_TYPE_FISH", "Fish"},
	{"PET_TYPE_SMALL", "Small Pets"},
	{"PET_TYPE_ALL", "All Pets"},
	{"PET_TYPE_SERVICE", "Service Animals"},
	{"PET_TYPE_DOMESTIC", "Domestic Animals"},
}

// AmenityCodes are the values of pet_amenities_list.
var AmenityCodes = CodeSet{
	{"AMENITY_PET_BEDS", "Pet Beds"},
	{"AMENITY_PET_BOWLS", "Pet Bowls"},
	{"AMENITY_PET_TREATS", "Pet Treats"},
	{"AMENITY_RELIEF_AREA", "Relief Area"},
	{"AMENITY_PET_MENU", "Pet Menu"},
	{"AMENITY_PET_TOYS", "Pet Toys"},
	{"AMENITY_KENNEL", "Kennel"},
	{"AMENITY_PET_SITTING", "Pet Sitting"},
	{"AMENITY_DOG_WALKING", "Dog Walking"},
	{"AMENITY_WASTE_BAGS", "Waste Bags"},
	{"AMENITY_WELCOME_KIT", "Welcome Kit"},
	{"AMENITY_FENCED_AREA", "Fenced Area"},
	{"AMENITY_DOG_WASH", "Dog Wash"},
	{"AMENITY_TRAILS", "Trails"},
}

// BreedCodes are the values of breed_restrictions.
var BreedCodes = CodeSet{
	{"BREED_AGGRESSIVE", "Aggressive Breeds"},
	{"BREED_LARGE", "Large Breeds"},
	{"BREED_CONTACT", "Contact for Restrictions"},
	{"BREED_AKITA", "Akita"},
	{"BREED_ALASKAN_MALAMUTE", "Alaskan Malamute"},
	{"BREED_AMERICAN_BULLDOG", "American Bulldog"},
	{"BREED_PIT_BULL", "Pit Bull"},
	{"BREED_STAFFORDSHIRE_TERRIER", "Staffordshire Terrier"},
	{"BREED_BELGIAN_MALINOIS", "Belgian Malinois"},
	{"BREED_BENGAL", "Bengal"},
	{"BREED_BOXER", "Boxer"},
	{"BREED_MASTIFF", "Mastiff"},
	{"BREED_BULL_TERRIER", "Bull Terrier"},
	{"BREED_BULLY", "Bully"},
	{"BREED_CANE_CORSO", "Cane Corso"},
	{"BREED_CHOW_CHOW", "Chow Chow"},
	{"BREED_DINGO", "Dingo"},
	{"BREED_DOBERMAN", "Doberman"},
	{"BREED_DOGO_ARGENTINO", "Dogo Argentino"},
	{"BREED_GERMAN_SHEPHERD", "German Shepherd"},
	{"BREED_GREAT_DANE", "Great Dane"},
	{"BREED_HUSKY", "Husky"},
	{"BREED_MIXED", "Mixed Breed"},
	{"BREED_PRESA_CANARIO", "Presa Canario"},
	{"BREED_ROTTWEILER", "Rottweiler"},
	{"BREED_SAVANNAH", "Savannah"},
	{"BREED_ST_BERNARD", "St. Bernard"},
	{"BREED_WOLF", "Wolf"},
}

// FeeIntervals are the accepted values of pet_fee_interval.
var FeeIntervals = []string{"per-night", "per-stay", "per-week", "per-month", "one-time"}
