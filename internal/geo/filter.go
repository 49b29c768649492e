// Package geo holds the geographic allow-list that defines the analysis
// universe. Every adapter consults it before allocating a normalized record
// so out-of-scope rows are dropped as early as possible.
package geo

import (
	"sort"
	"strings"
)

// tampaBayZips is the compiled-in default universe: the Tampa–St. Petersburg–
// Clearwater MSA at ZCTA granularity. Override with REGION_ZIPS.
var tampaBayZips = []string{
	"33510", "33511", "33527", "33534", "33547", "33548", "33549",
	"33556", "33558", "33559", "33563", "33565", "33566", "33567",
	"33569", "33570", "33572", "33573", "33578", "33579", "33584",
	"33592", "33594", "33596", "33598", "33602", "33603", "33604",
	"33605", "33606", "33607", "33609", "33610", "33611", "33612",
	"33613", "33614", "33615", "33616", "33617", "33618", "33619",
	"33624", "33625", "33626", "33629", "33634", "33635", "33637",
	"33647", "33701", "33702", "33703", "33704", "33705", "33706",
	"33707", "33708", "33709", "33710", "33711", "33712", "33713",
	"33714", "33715", "33716", "33755", "33756", "33759", "33760",
	"33761", "33762", "33763", "33764", "33765", "33767", "33770",
	"33771", "33772", "33773", "33774", "33776", "33777", "33778",
	"33781", "33782", "33785", "33786", "34606", "34607", "34608",
	"34609", "34613", "34637", "34638", "34639", "34652", "34653",
	"34654", "34655", "34667", "34668", "34669", "34677", "34681",
	"34683", "34684", "34685", "34688", "34689", "34690", "34691",
	"34695", "34698",
}

// Filter is an immutable set of 5-character zero-padded region codes.
type Filter struct {
	set map[string]struct{}
}

// NewFilter builds a filter from raw codes. Codes are normalized; empty or
// unnormalizable entries are dropped.
func NewFilter(codes []string) *Filter {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		z := Normalize(c)
		if z == "" {
			continue
		}
		set[z] = struct{}{}
	}
	return &Filter{set: set}
}

// DefaultFilter returns the compiled-in MSA universe.
func DefaultFilter() *Filter {
	return NewFilter(tampaBayZips)
}

// Normalize strips whitespace and zero-pads a region code to 5 characters.
// Returns "" when the input is not a plausible code (empty, non-digit, or
// longer than 5 digits).
func Normalize(code string) string {
	s := strings.TrimSpace(code)
	if s == "" || len(s) > 5 {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	for len(s) < 5 {
		s = "0" + s
	}
	return s
}

// Allows reports whether the (raw, not necessarily normalized) code is in
// the analysis universe.
func (f *Filter) Allows(code string) bool {
	_, ok := f.set[Normalize(code)]
	return ok
}

// Size returns the number of regions in the universe.
func (f *Filter) Size() int { return len(f.set) }

// Codes returns the normalized codes in sorted order.
func (f *Filter) Codes() []string {
	out := make([]string, 0, len(f.set))
	for z := range f.set {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}
