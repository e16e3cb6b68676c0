package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ScansTotal.WithLabelValues("authorized").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "parcelseal_scans_total" {
			found = true
		}
	}
	if !found {
		t.Error("parcelseal_scans_total not gathered")
	}

	// Registering twice must fail rather than silently duplicate
	if err := Register(reg); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}
