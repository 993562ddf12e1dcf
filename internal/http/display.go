package http

import (
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sitelens/internal/query"
)

// displayCountries replaces ISO country codes with common names for
// presentation. Unresolvable codes are upper-cased as-is.
func displayCountries(items []query.BucketValue) []query.BucketValue {
	if len(items) == 0 {
		return items
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	result := make([]query.BucketValue, len(items))
	for i, item := range items {
		name := item.Bucket
		if name == "" {
			name = "Unknown"
		} else if country, err := countries.FindCountryByAlpha(name); err == nil {
			name = country.Name.Common
		} else {
			name = caser.String(name)
		}
		result[i] = query.BucketValue{Bucket: name, Value: item.Value}
	}
	return result
}

// displayDevices title-cases device classes.
func displayDevices(items []query.BucketValue) []query.BucketValue {
	if len(items) == 0 {
		return items
	}

	caser := cases.Title(language.AmericanEnglish)
	result := make([]query.BucketValue, len(items))
	for i, item := range items {
		name := item.Bucket
		if name == "" {
			name = "Unknown"
		}
		result[i] = query.BucketValue{Bucket: caser.String(name), Value: item.Value}
	}
	return result
}
