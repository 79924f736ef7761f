package main

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagLoader reads a setting from the command line flag when it was set
// explicitly, otherwise from viper (environment, then flag default).
type flagLoader struct {
	cmd *cobra.Command
	v   *viper.Viper
}

func newFlagLoader(cmd *cobra.Command, v *viper.Viper) *flagLoader {
	return &flagLoader{cmd: cmd, v: v}
}

func (f *flagLoader) String(flagName string) string {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetString(flagName)
		return val
	}
	return f.v.GetString(flagName)
}

func (f *flagLoader) Int(flagName string) int {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetInt(flagName)
		return val
	}
	return f.v.GetInt(flagName)
}

func (f *flagLoader) Bool(flagName string) bool {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetBool(flagName)
		return val
	}
	return f.v.GetBool(flagName)
}

func (f *flagLoader) Duration(flagName string) time.Duration {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetDuration(flagName)
		return val
	}
	return f.v.GetDuration(flagName)
}

// Size parses a human readable binary size such as "5MiB" or "64k".
func (f *flagLoader) Size(flagName string) (int64, error) {
	raw := f.String(flagName)
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s value %q: %w", flagName, raw, err)
	}
	return size, nil
}
