package transport

import (
	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/validate"
)

// classify applies the multi-level response validator (Component D) to
// one command's response.
func classify(resp []byte, cmd model.ProtocolCommand) model.ValidationLevel {
	return validate.ClassifyResponse(resp, cmd.Primary, cmd.Levels)
}
