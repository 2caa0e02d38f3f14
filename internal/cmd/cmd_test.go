package cmd

import "testing"

func TestCallArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		ok   bool
	}{
		{"no args", nil, false},
		{"command only", []string{"ping"}, true},
		{"command and payload", []string{"search_workspace", `{"query":"x"}`}, true},
		{"too many", []string{"a", "b", "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := callCmd.Args(callCmd, tt.args)
			if (err == nil) != tt.ok {
				t.Errorf("args %v: err = %v, want ok=%v", tt.args, err, tt.ok)
			}
		})
	}
}

func TestRootHasSubcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "call": false}
	for _, sub := range rootCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
