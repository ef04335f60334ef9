// Package validate implements the two pure validators from spec.md §4.B
// and §4.D: the port (candidate-endpoint) validator and the multi-level
// response validator. Neither blocks, retries, nor mutates its input.
package validate

import (
	"strings"

	"github.com/bibfleet/fleet/pkg/model"
)

// PortPolicy configures which endpoints are eligible for a lease.
type PortPolicy struct {
	AllowedVendorIDs    []string // empty = accept any vendor
	AllowedChipFamilies []string // empty = accept any family
	AllowedProductIDs   []string // empty = accept any product id
	ExpectedManufacturer string  // case-insensitive substring; empty = don't care
	ExcludedEndpoints   []string

	Strict       bool // any failed criterion -> invalid
	MinimumScore int  // lenient mode only
}

// PortVerdict is the result of scoring one endpoint against a PortPolicy.
type PortVerdict struct {
	Valid           bool
	Score           int
	PassedCriteria  []string
	FailedCriteria  []string
	Reason          string
}

// Accessible reports whether the named endpoint can be opened; injected so
// the validator stays a pure function of its inputs rather than doing I/O
// itself.
type Accessible func(endpoint string) bool

// ValidatePort scores endpoint against policy. accessible is consulted
// for the "can be opened" criterion; pass nil to skip it (treated as
// passed).
func ValidatePort(endpoint model.PhysicalEndpoint, policy PortPolicy, accessible Accessible) PortVerdict {
	for _, excluded := range policy.ExcludedEndpoints {
		if strings.EqualFold(excluded, endpoint.Name) {
			return PortVerdict{Valid: false, Reason: "endpoint explicitly excluded"}
		}
	}

	var passed, failed []string

	if accessible == nil || accessible(endpoint.Name) {
		passed = append(passed, "accessibility")
	} else {
		failed = append(failed, "accessibility")
	}

	if len(policy.AllowedVendorIDs) == 0 || containsFold(policy.AllowedVendorIDs, endpoint.Metadata.VendorID) {
		passed = append(passed, "vendor_id")
	} else {
		failed = append(failed, "vendor_id")
	}

	if len(policy.AllowedChipFamilies) == 0 || containsFold(policy.AllowedChipFamilies, endpoint.Metadata.ChipFamily) {
		passed = append(passed, "chip_family")
	} else {
		failed = append(failed, "chip_family")
	}

	if len(policy.AllowedProductIDs) == 0 || containsFold(policy.AllowedProductIDs, endpoint.Metadata.ProductID) {
		passed = append(passed, "product_id")
	} else {
		failed = append(failed, "product_id")
	}

	if policy.ExpectedManufacturer == "" || strings.Contains(strings.ToLower(endpoint.Metadata.Manufacturer), strings.ToLower(policy.ExpectedManufacturer)) {
		passed = append(passed, "manufacturer")
	} else {
		failed = append(failed, "manufacturer")
	}

	total := len(passed) + len(failed)
	score := 0
	if total > 0 {
		score = 100 * len(passed) / total
	}

	v := PortVerdict{Score: score, PassedCriteria: passed, FailedCriteria: failed}

	if policy.Strict {
		v.Valid = len(failed) == 0
	} else {
		v.Valid = len(passed) > len(failed) && score >= policy.MinimumScore
	}

	if !v.Valid {
		v.Reason = "failed criteria: " + strings.Join(failed, ", ")
	}
	return v
}

func containsFold(list []string, s string) bool {
	for _, l := range list {
		if strings.EqualFold(l, s) {
			return true
		}
	}
	return false
}
