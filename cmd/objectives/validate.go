package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/variants"
)

var validateFlags struct {
	registry string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and variant registries",
	Long: `Validate the configuration file (with OBJECTIVES_* overrides applied)
and every registry in the variant registry file.

A registry is valid when it has at least one variant, exactly one ACTIVE
variant, unique variant IDs, routable traffic weights summing to 1.0 and
thresholds in range.

Examples:
  objectives validate --config config.yaml
  objectives validate --registry registries.yaml`,
	RunE: validateRun,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.registry, "registry", "", "registry file (default from config)")
}

func validateRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if cfgFile == "" {
		fmt.Fprintln(w, "✓ Configuration: defaults (no --config given)")
	} else {
		fmt.Fprintf(w, "✓ Configuration: %s\n", cfgFile)
	}

	path := validateFlags.registry
	if path == "" {
		path = cfg.Evaluation.RegistryFile
	}
	registries, err := variants.LoadRegistries(path)
	if err != nil {
		return cli.NewConfigError("evaluation.registry_file", err.Error())
	}

	set := variants.NewRegistrySet(registries)
	fmt.Fprintf(w, "✓ Registries: %s (%d objectives)\n", path, len(registries))
	for _, id := range set.ObjectiveIDs() {
		reg := registries[id]
		active, _ := reg.Active()
		fmt.Fprintf(w, "  - %s: %d variants, active %s, %d shadows\n",
			id, len(reg.Variants), active.VariantID, len(reg.Shadows()))
	}
	return nil
}
