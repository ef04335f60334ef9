// Package model holds the data types shared by every component: the
// logical Coordinate/PortConfiguration tree loaded from configuration,
// the DeviceMetadata/PhysicalEndpoint pair produced by discovery, and the
// outcome types produced by a workflow run.
//
// Parent relationships are stored as plain string IDs (BibID, UUTID),
// never as owning back-pointers, so these values stay cheap to copy and
// free of cycles.
package model

import (
	"strconv"
	"strings"
)

// Coordinate names a logical port without naming a physical endpoint.
type Coordinate struct {
	BibID string
	UUTID string
	Port  int
}

// Normalize lower-cases the identifiers so Coordinates compare and hash
// case-insensitively, per the data model invariant.
func (c Coordinate) Normalize() Coordinate {
	return Coordinate{
		BibID: strings.ToLower(c.BibID),
		UUTID: strings.ToLower(c.UUTID),
		Port:  c.Port,
	}
}

func (c Coordinate) String() string {
	return c.BibID + "/" + c.UUTID + "/" + strconv.Itoa(c.Port)
}
