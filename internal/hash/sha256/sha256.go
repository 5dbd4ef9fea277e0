// Package sha256 names archived pages by content digest, so repeated fetches
// of the same HTML within a job land on one object.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const unassignedJob = "unassigned"

var errEmptyPage = errors.New("empty page body")

// Namer builds "<prefix>/<jobID>/<digest>.html" object paths and implements
// crawler.PageNamer.
type Namer struct {
	prefix string
}

// New returns a Namer; an empty prefix puts pages at the bucket root.
func New(prefix string) *Namer {
	return &Namer{prefix: strings.Trim(strings.TrimSpace(prefix), "/")}
}

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PagePath names the object for one fetched page. Pages fetched outside a job
// go under "unassigned".
func (n *Namer) PagePath(jobID string, html []byte) (string, error) {
	if len(html) == 0 {
		return "", errEmptyPage
	}
	jobID = strings.ReplaceAll(strings.Trim(strings.TrimSpace(jobID), "/"), "/", "_")
	if jobID == "" {
		jobID = unassignedJob
	}
	name := fmt.Sprintf("%s/%s.html", jobID, Sum(html))
	if n.prefix == "" {
		return name, nil
	}
	return n.prefix + "/" + name, nil
}
