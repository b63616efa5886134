package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ListFetches.WithLabelValues("history", "success").Inc()
	m.ObjectURLs.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"portal_list_fetches_total", "portal_object_urls_live"} {
		if !names[want] {
			t.Fatalf("metric %s not registered; got %v", want, names)
		}
	}

	defer func() {
		if recover() == nil {
			t.Fatal("registering twice on the same registry should panic")
		}
	}()
	New(reg)
}
