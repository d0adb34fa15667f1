package valuation

import (
	"strconv"

	"github.com/google/uuid"
)

// IDGenerator issues unique result row ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

var resultNamespace = uuid.MustParse("6f1c8a52-3d7e-4b19-9a0e-5c2d8e4f7b13")

// openRowID derives a stable id for the open result of a staging row so a
// re-run of the same month and method regenerates identical ids.
func openRowID(valMonth, method string, sourceID int64) string {
	name := valMonth + "|" + method + "|" + strconv.FormatInt(sourceID, 10)
	return uuid.NewSHA1(resultNamespace, []byte(name)).String()
}
