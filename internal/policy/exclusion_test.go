package policy

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("malformed ranges are reported and skipped", func(t *testing.T) {
		t.Parallel()

		e, errs := New([]string{"10.0.0.0/24", "10.0.0.0/33", "bogus", ""}, nil)
		if len(errs) != 2 {
			t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
		}
		var mre *MalformedRangeError
		if !errors.As(errs[0], &mre) {
			t.Fatalf("expected MalformedRangeError, got %T", errs[0])
		}
		if mre.Range != "10.0.0.0/33" {
			t.Errorf("expected range 10.0.0.0/33, got %q", mre.Range)
		}
		if len(e.Networks()) != 1 {
			t.Errorf("expected 1 usable network, got %d", len(e.Networks()))
		}
		if !e.ExcludesAddress("10.0.0.7") {
			t.Error("expected usable range to still apply")
		}
	})

	t.Run("host bits are masked", func(t *testing.T) {
		t.Parallel()

		e, errs := New([]string{"192.168.1.77/24"}, nil)
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if got := e.Networks()[0].String(); got != "192.168.1.0/24" {
			t.Errorf("expected 192.168.1.0/24, got %s", got)
		}
	})

	t.Run("bad interface pattern is reported", func(t *testing.T) {
		t.Parallel()

		e, errs := New(nil, []string{"Gi[", "Mgmt*"})
		if len(errs) != 1 {
			t.Fatalf("expected 1 error, got %v", errs)
		}
		if len(e.Interfaces()) != 1 {
			t.Errorf("expected 1 pattern, got %v", e.Interfaces())
		}
	})
}

func TestExcludesAddress(t *testing.T) {
	t.Parallel()

	e, _ := New([]string{"10.0.0.0/24", "172.16.5.5"}, nil)

	tests := []struct {
		host string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.255", true},
		{"10.0.1.1", false},
		{"172.16.5.5", true},
		{"172.16.5.6", false},
		{"::ffff:10.0.0.9", true},
		{"core1.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()
			if got := e.ExcludesAddress(tt.host); got != tt.want {
				t.Errorf("ExcludesAddress(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}

	if !e.ExcludesAny([]string{"192.168.0.1", "10.0.0.2"}) {
		t.Error("expected ExcludesAny to match the second host")
	}
}

func TestExcludesInterface(t *testing.T) {
	t.Parallel()

	e, _ := New(nil, []string{"Mgmt*", "GigabitEthernet0/0", "Ethernet1/4?"})

	tests := []struct {
		name string
		want bool
	}{
		{"mgmt0", true},
		{"MgmtEth0/RP0/CPU0/0", true},
		{"gigabitethernet0/0", true},
		{"GigabitEthernet0/0", true},
		{"GigabitEthernet0/0.100", false},
		{"Ethernet1/41", true},
		{"Ethernet1/4", false},
		{"Loopback0", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := e.ExcludesInterface(tt.name); got != tt.want {
				t.Errorf("ExcludesInterface(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestNilExclusion(t *testing.T) {
	t.Parallel()

	var e *Exclusion
	if !e.Empty() {
		t.Error("expected nil policy to be empty")
	}
	if e.ExcludesAddress("10.0.0.1") || e.ExcludesInterface("Gi0/1") {
		t.Error("expected nil policy to exclude nothing")
	}
}

func TestExcludesInterfaceAbbreviated(t *testing.T) {
	t.Parallel()

	e, errs := New(nil, []string{"Gi0/1", "Te1/0/*"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"Gi0/1", true},
		{"GigabitEthernet0/1", true},
		{"gigabitethernet0/1", true},
		{"GigabitEthernet0/10", false},
		{"TenGigabitEthernet1/0/3", true},
		{"Te1/0/3", true},
		{"TenGigabitEthernet1/1/3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := e.ExcludesInterface(tt.name); got != tt.want {
				t.Errorf("ExcludesInterface(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
