package octopus

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRegion = errors.New("invalid region")

// Region is a DNO (distribution network operator) region code.
type Region string

type regionInfo struct {
	code Region
	gsp  int
	name string
}

var regions = []regionInfo{
	{"A", 10, "Eastern England"},
	{"B", 11, "East Midlands"},
	{"C", 12, "London"},
	{"D", 13, "Merseyside and Northern Wales"},
	{"E", 14, "West Midlands"},
	{"F", 15, "North Eastern England"},
	{"G", 16, "North Western England"},
	{"H", 20, "Southern England"},
	{"J", 19, "South Eastern England"},
	{"K", 21, "Southern Wales"},
	{"L", 22, "South Western England"},
	{"M", 23, "Yorkshire"},
	{"N", 18, "Southern Scotland"},
	{"P", 17, "Northern Scotland"},
}

func Regions() []Region {
	result := make([]Region, len(regions))
	for i, r := range regions {
		result[i] = r.code
	}
	return result
}

func ParseRegion(str string) (Region, error) {
	code := Region(strings.ToUpper(strings.TrimSpace(str)))
	if _, ok := lookupRegion(code); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRegion, str)
	}
	return code, nil
}

func (r Region) Name() string {
	info, ok := lookupRegion(r)
	if !ok {
		return ""
	}
	return info.name
}

// Label is the region as presented to users, e.g. "A/10: Eastern England".
func (r Region) Label() string {
	info, ok := lookupRegion(r)
	if !ok {
		return string(r)
	}
	return fmt.Sprintf("%s/%d: %s", info.code, info.gsp, info.name)
}

func (r Region) String() string {
	return string(r)
}

func lookupRegion(code Region) (regionInfo, bool) {
	for _, r := range regions {
		if r.code == code {
			return r, true
		}
	}
	return regionInfo{}, false
}
