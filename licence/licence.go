// Package licence holds the catalogue of licences accepted for publication.
package licence

import "strings"

// Licence is a recognised data licence.
type Licence struct {
	ID      string `json:"-"`
	URL     string `json:"url"`
	Acronym string `json:"acronym"`
	Version string `json:"version"`
	Name    string `json:"name"`
}

// Catalogue is an ordered, read-only list of licences. The order matters:
// Resolve returns the first match.
type Catalogue struct {
	licences []Licence
}

// NewCatalogue returns a catalogue with the given licences in that order.
func NewCatalogue(licences ...Licence) *Catalogue {
	c := &Catalogue{licences: make([]Licence, len(licences))}
	copy(c.licences, licences)
	return c
}

// Default returns the catalogue of Creative Commons licences recognised by
// the registry.
func Default() *Catalogue {
	return NewCatalogue(
		Licence{ID: "CC0", URL: "https://creativecommons.org/publicdomain/zero/1.0/legalcode", Acronym: "CC0", Version: "1.0", Name: "Creative Commons Zero"},
		Licence{ID: "CC_BY_4_0", URL: "https://creativecommons.org/licenses/by/4.0/legalcode", Acronym: "CC-BY", Version: "4.0", Name: "Creative Commons By Attribution 4.0"},
		Licence{ID: "CC_BY_NC_4_0", URL: "https://creativecommons.org/licenses/by-nc/4.0/legalcode", Acronym: "CC-BY-NC", Version: "4.0", Name: "Creative Commons Attribution-Noncommercial 4.0"},
		Licence{ID: "CC_BY_NC_SA_4_0", URL: "https://creativecommons.org/licenses/by-nc-sa/4.0/legalcode", Acronym: "CC-BY-NC-SA", Version: "4.0", Name: "Creative Commons Attribution-Noncommercial Share Alike 4.0"},
		Licence{ID: "CC_BY_3_0", URL: "https://creativecommons.org/licenses/by/3.0/legalcode", Acronym: "CC-BY", Version: "3.0", Name: "Creative Commons By Attribution 3.0"},
		Licence{ID: "CC_BY_NC_3_0", URL: "https://creativecommons.org/licenses/by-nc/3.0/legalcode", Acronym: "CC-BY-NC", Version: "3.0", Name: "Creative Commons Attribution-Noncommercial 3.0"},
		Licence{ID: "CC_BY_NC_SA_3_0", URL: "https://creativecommons.org/licenses/by-nc-sa/3.0/legalcode", Acronym: "CC-BY-NC-SA", Version: "3.0", Name: "Creative Commons Attribution-Noncommercial Share Alike 3.0"},
		Licence{ID: "CC_BY_NC_3_0_AU", URL: "https://creativecommons.org/licenses/by-nc/3.0/au/legalcode", Acronym: "CC-BY-NC", Version: "3.0", Name: "Creative Commons Attribution-Noncommercial 3.0"},
		Licence{ID: "CC_BY_4_0_AU", URL: "https://creativecommons.org/licenses/by/4.0/au/legalcode", Acronym: "CC-BY", Version: "4.0", Name: "Creative Commons By Attribution 4.0"},
		Licence{ID: "CC_BY_NC_4_0_AU", URL: "https://creativecommons.org/licenses/by-nc/4.0/au/legalcode", Acronym: "CC-BY-NC", Version: "4.0", Name: "Creative Commons Attribution-Noncommercial 4.0"},
		Licence{ID: "CC_BY_NC_SA_4_0_AU", URL: "https://creativecommons.org/licenses/by-nc-sa/4.0/au/legalcode", Acronym: "CC-BY-NC-SA", Version: "4.0", Name: "Creative Commons Attribution-Noncommercial Share Alike 4.0"},
		Licence{ID: "CC_BY_3_0_AU", URL: "https://creativecommons.org/licenses/by/3.0/au/legalcode", Acronym: "CC-BY", Version: "3.0", Name: "Creative Commons By Attribution 3.0"},
		Licence{ID: "CC_BY_NC_SA_3_0_AU", URL: "https://creativecommons.org/licenses/by-nc-sa/3.0/au/legalcode", Acronym: "CC-BY-NC-SA", Version: "3.0", Name: "Creative Commons Attribution-Noncommercial Share Alike 3.0"},
	)
}

// Resolve returns the first licence whose canonical URL contains url. Note
// the direction of the match: abbreviated URLs such as "by/4.0" resolve, full
// URLs with extra suffixes do not.
func (c *Catalogue) Resolve(url string) (Licence, bool) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Licence{}, false
	}
	for _, l := range c.licences {
		if strings.Contains(l.URL, url) {
			return l, true
		}
	}
	return Licence{}, false
}

// All returns a copy of the catalogue in declaration order.
func (c *Catalogue) All() []Licence {
	out := make([]Licence, len(c.licences))
	copy(out, c.licences)
	return out
}

// Map returns the catalogue keyed by licence ID.
func (c *Catalogue) Map() map[string]Licence {
	m := make(map[string]Licence, len(c.licences))
	for _, l := range c.licences {
		m[l.ID] = l
	}
	return m
}
