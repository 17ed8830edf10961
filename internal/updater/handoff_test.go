package updater

import (
	"strings"
	"testing"
)

func envLookup(env []string) func(string) (string, bool) {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestHandoff_RoundTrip(t *testing.T) {
	h := Handoff{
		ExePath:        "/opt/app/app.bin",
		UpdateTempPath: "/tmp/deltaupdate",
		ConfigFileName: "update-config.json",
		ExePID:         4242,
		RunAsAdmin:     true,
	}

	env := h.Environ()
	if !containsEnv(env, "update_contract_version=1") {
		t.Errorf("contract version missing from %v", env)
	}
	if !containsEnv(env, "UPDATE_RUN_ADMIN=1") {
		t.Errorf("admin flag missing from %v", env)
	}

	got, err := HandoffFromEnv(envLookup(env))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Errorf("round trip: got %+v, want %+v", got, h)
	}
}

func TestHandoff_NoAdminFlagByDefault(t *testing.T) {
	h := Handoff{ExePath: "a", UpdateTempPath: "b", ConfigFileName: "c", ExePID: 1}
	for _, kv := range h.Environ() {
		if strings.HasPrefix(kv, EnvRunAdmin+"=") {
			t.Errorf("unexpected %s", kv)
		}
	}
}

func TestHandoff_Validate(t *testing.T) {
	err := Handoff{}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"exe path", "temp path", "config file name", "pid"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestHandoffFromEnv_Errors(t *testing.T) {
	base := Handoff{ExePath: "a", UpdateTempPath: "b", ConfigFileName: "c", ExePID: 1}.Environ()

	tests := []struct {
		name  string
		extra string
	}{
		{"future contract", "update_contract_version=2"},
		{"bad contract", "update_contract_version=x"},
		{"bad pid", "exe_pid=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := append(append([]string{}, base...), tt.extra)
			if _, err := HandoffFromEnv(envLookup(env)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := HandoffFromEnv(envLookup(nil)); err == nil {
		t.Error("empty environment should not validate")
	}
}

func containsEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}
