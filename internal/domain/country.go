package domain

// countryNames maps ISO 3166-1 alpha-2 codes to display names for the
// countries most commonly reported by the geocoder. Codes outside the table
// fall back to the code itself.
var countryNames = map[string]string{
	"US": "United States",
	"GB": "United Kingdom",
	"DE": "Germany",
	"FR": "France",
	"ES": "Spain",
	"IT": "Italy",
	"RU": "Russia",
	"CN": "China",
	"JP": "Japan",
	"AU": "Australia",
	"CA": "Canada",
	"BR": "Brazil",
	"MX": "Mexico",
	"IN": "India",
	"KR": "South Korea",
	"NL": "Netherlands",
	"BE": "Belgium",
	"CH": "Switzerland",
	"AT": "Austria",
	"PT": "Portugal",
	"SE": "Sweden",
	"NO": "Norway",
	"FI": "Finland",
	"DK": "Denmark",
	"PL": "Poland",
	"CZ": "Czech Republic",
	"HU": "Hungary",
	"GR": "Greece",
	"TR": "Turkey",
	"EG": "Egypt",
	"ZA": "South Africa",
	"AE": "United Arab Emirates",
	"TH": "Thailand",
	"SG": "Singapore",
	"MY": "Malaysia",
	"ID": "Indonesia",
	"PH": "Philippines",
	"VN": "Vietnam",
	"NZ": "New Zealand",
	"IL": "Israel",
	"SA": "Saudi Arabia",
	"QA": "Qatar",
	"KW": "Kuwait",
	"IE": "Ireland",
	"IS": "Iceland",
	"UA": "Ukraine",
	"RO": "Romania",
	"HR": "Croatia",
	"SK": "Slovakia",
	"SI": "Slovenia",
	"EE": "Estonia",
	"LV": "Latvia",
	"LT": "Lithuania",
	"LU": "Luxembourg",
	"AR": "Argentina",
	"CL": "Chile",
	"CO": "Colombia",
	"PE": "Peru",
	"MA": "Morocco",
	"TN": "Tunisia",
	"KE": "Kenya",
	"NG": "Nigeria",
	"HK": "Hong Kong",
	"TW": "Taiwan",
}

// CountryName returns the display name for an ISO code, or the code itself
// when unknown.
func CountryName(code string) string {
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}

// CountryNames maps a slice of codes to display names, preserving order.
func CountryNames(codes []string) []string {
	names := make([]string, len(codes))
	for i, code := range codes {
		names[i] = CountryName(code)
	}
	return names
}
