package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLString(t *testing.T) {
	cfg, err := LoadYAMLString(`
printer:
extruder:
  rotation_distance: 22.6789511
manual_extruder_stepper purge_belt_stepper:
  rotation_distance: 40
  extra_endstops: [belt_home=^PB2, filament=PC3]
purgebelt:
  park_pos_x: 12.5
  return_to_start_pos: false
`)
	if err != nil {
		t.Fatalf("LoadYAMLString failed: %v", err)
	}

	names := cfg.GetSectionNames()
	want := []string{"printer", "extruder", "manual_extruder_stepper purge_belt_stepper", "purgebelt"}
	if len(names) != len(want) {
		t.Fatalf("sections = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("section %d = %q, want %q", i, names[i], want[i])
		}
	}

	belt, _ := cfg.GetSection("purgebelt")
	if v, _ := belt.GetFloat("park_pos_x"); v != 12.5 {
		t.Errorf("park_pos_x = %v, want 12.5", v)
	}
	if v, _ := belt.GetBool("return_to_start_pos", true); v {
		t.Error("return_to_start_pos should be false")
	}

	stepper, _ := cfg.GetSection("manual_extruder_stepper purge_belt_stepper")
	keys, pins, err := stepper.GetMap("extra_endstops")
	if err != nil {
		t.Fatalf("GetMap failed: %v", err)
	}
	if len(keys) != 2 || pins["filament"] != "PC3" {
		t.Errorf("unexpected endstops: %v %v", keys, pins)
	}
}

func TestLoadYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"list at top level", "- a\n- b\n"},
		{"scalar section", "purgebelt: 5\n"},
		{"nested option", "purgebelt:\n  park:\n    x: 1\n"},
		{"bad syntax", "purgebelt: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadYAMLString(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printer.yaml")
	if err := os.WriteFile(path, []byte("purgebelt:\n  purge_length: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	sec, _ := cfg.GetSection("purgebelt")
	if v, _ := sec.GetFloat("purge_length"); v != 60 {
		t.Errorf("purge_length = %v, want 60", v)
	}
}
