package probe

import (
	"errors"
	"testing"

	nmap "github.com/Ullaakut/nmap/v3"
)

func TestParseRun(t *testing.T) {
	t.Parallel()

	run := &nmap.Run{
		Hosts: []nmap.Host{
			{
				Addresses: []nmap.Address{
					{Addr: "10.0.0.1", AddrType: "ipv4"},
					{Addr: "AA:BB:CC:DD:EE:FF", AddrType: "mac"},
				},
				Hostnames: []nmap.Hostname{{Name: "core1.example.com"}},
				Status:    nmap.Status{State: "up"},
				Ports: []nmap.Port{
					{ID: 22, Protocol: "tcp", State: nmap.State{State: "open"}},
					{ID: 23, Protocol: "tcp", State: nmap.State{State: "closed"}},
				},
			},
			{
				Addresses: []nmap.Address{{Addr: "10.0.0.2", AddrType: "ipv4"}},
				Status:    nmap.Status{State: "up"},
				Ports: []nmap.Port{
					{ID: 22, Protocol: "tcp", State: nmap.State{State: "filtered"}},
					{ID: 23, Protocol: "tcp", State: nmap.State{State: "open|filtered"}},
				},
			},
			{
				Addresses: []nmap.Address{{Addr: "10.0.0.3", AddrType: "ipv4"}},
				Status:    nmap.Status{State: "down"},
				Ports: []nmap.Port{
					{ID: 22, Protocol: "tcp", State: nmap.State{State: "closed"}},
				},
			},
		},
	}

	result := parseRun(run)

	tests := []struct {
		name       string
		host       string
		port       int
		wantState  PortState
		wantKnown  bool
		wantClosed bool
	}{
		{name: "open ssh", host: "10.0.0.1", port: 22, wantState: PortOpen, wantKnown: true},
		{name: "closed telnet", host: "10.0.0.1", port: 23, wantState: PortClosed, wantKnown: true, wantClosed: true},
		{name: "indexed by hostname", host: "core1.example.com", port: 23, wantState: PortClosed, wantKnown: true, wantClosed: true},
		{name: "filtered is not closed", host: "10.0.0.2", port: 22, wantState: PortFiltered, wantKnown: true},
		{name: "open|filtered is filtered", host: "10.0.0.2", port: 23, wantState: PortFiltered, wantKnown: true},
		{name: "down host is unknown", host: "10.0.0.3", port: 22, wantKnown: false},
		{name: "unscanned port is unknown", host: "10.0.0.1", port: 830, wantKnown: false},
		{name: "mac address is not indexed", host: "AA:BB:CC:DD:EE:FF", port: 22, wantKnown: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st, known := result.State(tt.host, tt.port)
			if known != tt.wantKnown {
				t.Fatalf("expected known=%v, got %v", tt.wantKnown, known)
			}
			if known && st != tt.wantState {
				t.Errorf("expected state %s, got %s", tt.wantState, st)
			}
			if got := result.Closed(tt.host, tt.port); got != tt.wantClosed {
				t.Errorf("expected closed=%v, got %v", tt.wantClosed, got)
			}
		})
	}
}

func TestParseRun_Nil(t *testing.T) {
	t.Parallel()

	result := parseRun(nil)
	if result.Closed("10.0.0.1", 22) {
		t.Error("expected empty result")
	}
}

func TestJoinPorts(t *testing.T) {
	t.Parallel()

	if got := joinPorts([]int{22, 23, 2222}); got != "22,23,2222" {
		t.Errorf("expected 22,23,2222, got %s", got)
	}
}

func TestNmapProber_NoTargets(t *testing.T) {
	t.Parallel()

	p := NewNmapProber()
	if _, err := p.Probe(t.Context(), nil, []int{22}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
	if _, err := p.Probe(t.Context(), []string{"10.0.0.1"}, nil); !errors.Is(err, ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
}

func TestZeroResult(t *testing.T) {
	t.Parallel()

	var r Result
	if _, ok := r.State("10.0.0.1", 22); ok {
		t.Error("expected zero result to know nothing")
	}
}
