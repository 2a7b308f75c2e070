package config

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_JSONRoundTrip(t *testing.T) {
	type payload struct {
		Delay Duration `json:"delay"`
	}

	in := payload{Delay: Duration(25 * time.Minute)}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"delay":"25m0s"}` {
		t.Errorf("marshal: got %s", b)
	}

	var out payload
	if err := json.Unmarshal([]byte(`{"delay":"1h30m"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Delay.Std() != 90*time.Minute {
		t.Errorf("unmarshal: got %v, want 1h30m", out.Delay.Std())
	}
}

func TestDuration_JSONRejectsNonString(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`300`), &d); err == nil {
		t.Fatal("expected error for numeric duration")
	}
	if err := json.Unmarshal([]byte(`"fast"`), &d); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	type profile struct {
		ServiceTime Duration `yaml:"service_time"`
	}

	var p profile
	if err := yaml.Unmarshal([]byte("service_time: 15m\n"), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.ServiceTime.Std() != 15*time.Minute {
		t.Errorf("unmarshal: got %v, want 15m", p.ServiceTime.Std())
	}

	b, err := yaml.Marshal(profile{ServiceTime: Duration(45 * time.Second)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "service_time: 45s\n" {
		t.Errorf("marshal: got %q", b)
	}
}

func TestDuration_YAMLRejectsUnparsable(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte("soon"), &d); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}
