package versioning

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// Summary counts the entries of a version by kind of change.
type Summary struct {
	Added   int      `json:"added"`
	Removed int      `json:"removed"`
	Updated int      `json:"updated"`
	Fields  []string `json:"fields"`
}

// Summarize classifies every path key of the version. Fields lists the
// distinct top-level fields touched, sorted. Keys that do not parse are
// ignored.
func Summarize(version *Version) Summary {
	var sum Summary
	if version.IsEmpty() {
		return sum
	}

	fields := make(map[string]bool)
	for key := range version.ObjectModificationMap {
		pk, err := parsePathKey(key)
		if err != nil {
			continue
		}
		switch pk.op {
		case opAdd:
			sum.Added++
		case opRemove:
			sum.Removed++
		default:
			sum.Updated++
		}
		fields[pk.field] = true
	}

	sum.Fields = make([]string, 0, len(fields))
	for f := range fields {
		sum.Fields = append(sum.Fields, f)
	}
	sort.Strings(sum.Fields)
	return sum
}

// Checksum returns the hex sha256 of the modification map in canonical form.
// Versions carrying the same changes share a checksum whatever their id and
// timestamp.
func Checksum(version *Version) (string, error) {
	if version == nil {
		return "", errors.NewValidationError("version cannot be nil")
	}

	// map keys are written sorted
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(version.ObjectModificationMap)
	if err != nil {
		return "", errors.NewInternalError("failed to encode modifications").WithCause(err)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// RetentionPolicy bounds how many versions of a record are kept and for how
// long.
type RetentionPolicy struct {
	MaxVersions     int           `json:"max_versions" yaml:"max_versions"`
	RetentionPeriod time.Duration `json:"retention_period" yaml:"retention_period"`
}

// DefaultRetentionPolicy returns the default retention policy
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxVersions:     10,
		RetentionPeriod: 30 * 24 * time.Hour,
	}
}

// Expired reports whether version is older than the retention period at now.
// A zero period keeps versions forever.
func (p RetentionPolicy) Expired(version *Version, now time.Time) bool {
	if p.RetentionPeriod <= 0 || version == nil {
		return false
	}
	return now.Sub(version.CreatedAt) > p.RetentionPeriod
}
