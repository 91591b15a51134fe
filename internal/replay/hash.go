package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

// The canonical encoding is part of the replay contract. Changing any of
// these changes every recorded hash.
const (
	canonicalTimeLayout = "2006-01-02T15:04:05+00:00"
	canonicalSeparator  = "|"
	canonicalPlaces     = 6
)

// CanonicalLine renders one bar as ts|open|high|low|close|volume. Prices are
// fixed to 6 places, rounding half away from zero; a null volume is 0.
func CanonicalLine(b models.Bar) string {
	var vol int64
	if b.Volume != nil {
		vol = *b.Volume
	}
	return strings.Join([]string{
		b.TS.UTC().Format(canonicalTimeLayout),
		b.Open.StringFixed(canonicalPlaces),
		b.High.StringFixed(canonicalPlaces),
		b.Low.StringFixed(canonicalPlaces),
		b.Close.StringFixed(canonicalPlaces),
		strconv.FormatInt(vol, 10),
	}, canonicalSeparator)
}

// Hasher accumulates canonical lines into one SHA-256. Lines are written
// back to back with no terminator.
type Hasher struct {
	h hash.Hash
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Add(b models.Bar) {
	h.h.Write([]byte(CanonicalLine(b)))
}

// Sum returns the hex digest so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// HashBars hashes bars in the order given.
func HashBars(bars []models.Bar) string {
	h := NewHasher()
	for _, b := range bars {
		h.Add(b)
	}
	return h.Sum()
}
