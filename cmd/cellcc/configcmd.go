package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sinenomine/cellcc/internal/config"
)

func newConfigCmd(gf *globalFlags) *cobra.Command {
	var (
		check   bool
		dump    bool
		dumpAll bool
	)

	cmd := &cobra.Command{
		Use:   "config [KEY]",
		Short: "Inspect and validate the loaded configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			}
			return runConfig(cmd, gf, check, dump, dumpAll, key)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "load and validate the config, then exit")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the effective config as YAML")
	cmd.Flags().BoolVar(&dumpAll, "dump-all", false, "print the effective config as YAML, including defaulted fields")
	return cmd
}

func runConfig(cmd *cobra.Command, gf *globalFlags, check, dump, dumpAll bool, key string) error {
	overrides, err := parseOverrides(gf.overrides)
	if err != nil {
		return err
	}
	cfg, err := config.Load(gf.configPath, overrides...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if check {
		fmt.Fprintf(out, "config OK: %s\n", gf.configPath)
		return nil
	}

	if dump || dumpAll {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		out.Write(data)
		return nil
	}

	if key != "" {
		val, err := lookupConfigKey(cfg, key)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, val)
		return nil
	}

	return fmt.Errorf("config: specify --check, --dump, --dump-all, or a KEY")
}

// lookupConfigKey navigates cfg's YAML-marshaled tree using the same
// "/"-separated path segments config.Override and spec §6's directive names
// use, for the single-value read path of the `config KEY` subcommand.
func lookupConfigKey(cfg *config.Config, key string) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return "", err
	}

	var cur interface{} = tree
	for _, seg := range strings.Split(key, "/") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("config: %q is not a mapping at segment %q", key, seg)
		}
		next, ok := m[seg]
		if !ok {
			return "", fmt.Errorf("config: key %q not found", key)
		}
		cur = next
	}

	out, err := yaml.Marshal(cur)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}
