package main

import (
	"encoding/json"
	"testing"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/variants"
)

func TestRouteRun(t *testing.T) {
	setupCommandTest(t)
	routeFlags.objective = "tool-selection"
	routeFlags.runID = "run-42"
	routeFlags.registry = ""
	routeFlags.output = "json"

	cmd, out := newTestCmd("")
	if err := routeRun(cmd, nil); err != nil {
		t.Fatalf("routeRun() error = %v", err)
	}

	var got routeResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}

	registries, err := variants.LoadRegistries("testdata/registries.yaml")
	if err != nil {
		t.Fatal(err)
	}
	want := variants.RouteToVariant("run-42", registries["tool-selection"])
	if got.VariantID != want.VariantID {
		t.Errorf("VariantID = %q, want %q", got.VariantID, want.VariantID)
	}
	if got.Fraction != variants.HashFraction("run-42") {
		t.Errorf("Fraction = %v, want %v", got.Fraction, variants.HashFraction("run-42"))
	}
	if got.VariantID == "ts-v4-strict" {
		t.Error("routed to an inactive variant")
	}
}

func TestRouteRun_Errors(t *testing.T) {
	setupCommandTest(t)

	tests := []struct {
		name      string
		objective string
		runID     string
		output    string
		wantCode  int
	}{
		{name: "missing objective", runID: "run-1", output: "text", wantCode: cli.ExitUsage},
		{name: "missing run id", objective: "tool-selection", output: "text", wantCode: cli.ExitUsage},
		{name: "bad output", objective: "tool-selection", runID: "run-1", output: "xml", wantCode: cli.ExitUsage},
		{name: "unknown objective", objective: "nope", runID: "run-1", output: "text", wantCode: cli.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routeFlags.objective = tt.objective
			routeFlags.runID = tt.runID
			routeFlags.registry = ""
			routeFlags.output = tt.output

			cmd, _ := newTestCmd("")
			err := routeRun(cmd, nil)
			if err == nil {
				t.Fatal("routeRun() error = nil")
			}
			if code := cli.ExitCode(err); code != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d (err = %v)", code, tt.wantCode, err)
			}
		})
	}
}
