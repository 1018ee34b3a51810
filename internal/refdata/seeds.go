package refdata

import (
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

var ErrInvalidSeed = errors.New("invalid seed entry")

// StateSeed is one row of the country state seed file
type StateSeed struct {
	XMLID   string `csv:"id"`
	Country string `csv:"country_id:id"`
	Name    string `csv:"name"`
	Code    string `csv:"code"`
}

// Key returns the identity mapping name without a module prefix
func (s StateSeed) Key() string {
	if i := strings.LastIndexByte(s.XMLID, '.'); i >= 0 {
		return s.XMLID[i+1:]
	}

	return s.XMLID
}

// CountryKey returns the country identity mapping name without a module prefix
func (s StateSeed) CountryKey() string {
	if i := strings.LastIndexByte(s.Country, '.'); i >= 0 {
		return s.Country[i+1:]
	}

	return s.Country
}

// ReadStateSeeds reads the whole seed file, it is small enough to be kept in
// memory for the duration of a reconciliation
func ReadStateSeeds(r io.Reader) ([]StateSeed, error) {
	var seeds []StateSeed
	if err := gocsv.Unmarshal(r, &seeds); err != nil {
		return nil, errors.Wrap(err, "could not parse state seeds")
	}

	for i, s := range seeds {
		if s.Key() == "" || s.Code == "" || s.CountryKey() == "" {
			return nil, errors.Wrapf(ErrInvalidSeed, "line %d: %+v", i+2, s)
		}
	}

	return seeds, nil
}
