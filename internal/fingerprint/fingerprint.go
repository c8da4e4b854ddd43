// Package fingerprint derives the short reference suffix attached to every
// alert sent to TheHive.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"

	"elastic-hive-sync/internal/model"
)

// Length is the number of hex characters kept from the digest.
const Length = 16

// Of hashes id, ruleID and timestamp joined by ':' and returns the first
// Length hex characters. MD5 keeps references identical to those produced by
// earlier deployments; collision resistance here only matters for humans.
func Of(id, ruleID, timestamp string) string {
	sum := md5.Sum([]byte(id + ":" + ruleID + ":" + timestamp))
	return hex.EncodeToString(sum[:])[:Length]
}

func ForAlert(a model.SourceAlert) string {
	return Of(a.ID, a.Rule.ID, a.Timestamp)
}
