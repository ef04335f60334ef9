package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/validate"
)

func TestValidatePortEmptyAllowListsAcceptAnyFamily(t *testing.T) {
	ep := model.PhysicalEndpoint{Name: "/dev/ttyUSB0", Metadata: model.DeviceMetadata{ChipFamily: "exotic"}}
	v := validate.ValidatePort(ep, validate.PortPolicy{Strict: true}, nil)
	assert.True(t, v.Valid)
	assert.Equal(t, 100, v.Score)
}

func TestValidatePortExcludedEndpoint(t *testing.T) {
	ep := model.PhysicalEndpoint{Name: "/dev/ttyUSB0"}
	v := validate.ValidatePort(ep, validate.PortPolicy{ExcludedEndpoints: []string{"/dev/ttyUSB0"}}, nil)
	assert.False(t, v.Valid)
}

func TestValidatePortStrictRejectsAnyFailure(t *testing.T) {
	ep := model.PhysicalEndpoint{Metadata: model.DeviceMetadata{ChipFamily: "dual"}}
	policy := validate.PortPolicy{AllowedChipFamilies: []string{"quad"}, Strict: true}
	v := validate.ValidatePort(ep, policy, nil)
	assert.False(t, v.Valid)
	assert.Contains(t, v.FailedCriteria, "chip_family")
}

func TestValidatePortLenientAcceptsAboveMinimumScore(t *testing.T) {
	ep := model.PhysicalEndpoint{Metadata: model.DeviceMetadata{
		VendorID: "0403", ChipFamily: "quad", ProductID: "6001", Manufacturer: "Unknown",
	}}
	policy := validate.PortPolicy{
		AllowedVendorIDs:     []string{"0403"},
		AllowedChipFamilies:  []string{"quad"},
		AllowedProductIDs:    []string{"6001"},
		ExpectedManufacturer: "FTDI",
		MinimumScore:         50,
	}
	v := validate.ValidatePort(ep, policy, nil)
	// 4 of 5 criteria pass (manufacturer fails) -> score 80, passed > failed.
	assert.True(t, v.Valid)
	assert.Equal(t, 80, v.Score)
}

func TestValidatePortVendorIDCriterion(t *testing.T) {
	ep := model.PhysicalEndpoint{Metadata: model.DeviceMetadata{VendorID: "1234"}}
	policy := validate.PortPolicy{AllowedVendorIDs: []string{"0403"}, Strict: true}
	v := validate.ValidatePort(ep, policy, nil)
	assert.False(t, v.Valid)
	assert.Contains(t, v.FailedCriteria, "vendor_id")
}

func TestValidatePortAccessibilityCriterion(t *testing.T) {
	ep := model.PhysicalEndpoint{Name: "/dev/ttyUSB0"}
	unreachable := func(string) bool { return false }
	v := validate.ValidatePort(ep, validate.PortPolicy{Strict: true}, unreachable)
	assert.False(t, v.Valid)
	assert.Contains(t, v.FailedCriteria, "accessibility")
}
