package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/bibfleet/fleet/pkg/config"
	"github.com/bibfleet/fleet/pkg/discovery"
	"github.com/bibfleet/fleet/pkg/hwsignal"
	"github.com/bibfleet/fleet/pkg/logging"
	"github.com/bibfleet/fleet/pkg/mapper"
	"github.com/bibfleet/fleet/pkg/model"
	"github.com/bibfleet/fleet/pkg/orchestrator"
	"github.com/bibfleet/fleet/pkg/pool"
	"github.com/bibfleet/fleet/pkg/transport"
	"github.com/bibfleet/fleet/pkg/validate"
)

// host bundles the wiring a real process needs: config store, discovery,
// pool, mapper, and the orchestrator sitting on top of them. None of this
// wiring lives in pkg/... — every pkg/... constructor takes its
// collaborators explicitly, and this file is where a concrete process
// chooses concrete ones.
type host struct {
	config *config.XMLStore
	orch   *orchestrator.Orchestrator
}

func buildHost() (*host, error) {
	root := viper.GetString("config")
	store := config.NewXMLStore(root)

	disc := discovery.New(discovery.NewLinuxEnumerator(), discovery.NewSysfsMetadataReader())
	p := pool.New(disc.Endpoints)
	m := mapper.New(disc.Endpoints, store)
	registry := transport.DefaultRegistry
	log := logging.Default()

	orch := orchestrator.New(store, m, p, registry, hwsignal.NoOp{}, log, validate.PortPolicy{})
	return &host{config: store, orch: orch}, nil
}

func (h *host) run(ctx context.Context, bibID, uutID string, port int, clientID string) error {
	if port > 0 {
		outcome := h.orch.RunSingle(ctx, model.Coordinate{BibID: bibID, UUTID: uutID, Port: port}, clientID)
		printOutcome(outcome)
		if !outcome.Success {
			return fmt.Errorf("%s: failed", outcome.Coordinate)
		}
		return nil
	}

	outcomes := h.orch.RunAllPorts(ctx, bibID, uutID, clientID)
	failures := 0
	for _, o := range outcomes {
		printOutcome(o)
		if !o.Success {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d/%d ports failed", failures, len(outcomes))
	}
	return nil
}

func printOutcome(o model.WorkflowOutcome) {
	status := "PASS"
	if !o.Success {
		status = "FAIL"
	}
	fmt.Printf("%-6s %-24s endpoint=%s lease=%s duration=%s\n", status, o.Coordinate, o.Endpoint, o.LeaseID, o.Duration())
	if o.Error != "" {
		fmt.Printf("       error: %s\n", o.Error)
	}
}
