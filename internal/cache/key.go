package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// HazardKey identifies one source's hazard reading at a point rounded to
// three decimal places (about 110 m).
func HazardKey(source string, lat, lon float64) string {
	return "hazard:" + source + ":" + roundCoord(lat, 3) + ":" + roundCoord(lon, 3)
}

// BoundaryKey identifies administrative context at a point rounded to four
// decimal places.
func BoundaryKey(lat, lon float64) string {
	return "boundary:" + roundCoord(lat, 4) + ":" + roundCoord(lon, 4)
}

// AddressKey returns a SHA-256 key of the case-folded, whitespace-collapsed
// address, so equivalent spellings share an entry.
func AddressKey(address string) string {
	normalized := strings.Join(strings.Fields(cases.Fold().String(address)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "geocode:" + hex.EncodeToString(sum[:])
}

func roundCoord(v float64, places int) string {
	p := math.Pow10(places)
	r := math.Round(v*p) / p
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', places, 64)
}
