// Package status provides the Report type served by status endpoints.
package status

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Report is a snapshot with a content-based checksum, usable as an ETag.
type Report struct {
	ID       string `json:"id"`
	Checksum string `json:"checksum"`
	Data     any    `json:"data"`
}

// New creates a report; the checksum is SHA-256 over the JSON of data.
func New(id string, data any) Report {
	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)

	return Report{
		ID:       id,
		Checksum: hex.EncodeToString(hash[:]),
		Data:     data,
	}
}

// ETag returns the checksum as a strong HTTP entity tag.
func (r Report) ETag() string {
	return `"` + r.Checksum + `"`
}
