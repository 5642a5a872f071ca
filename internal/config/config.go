// Package config loads the optional ubios.yml profile: a YAML file
// sitting next to the boot image that pre-sets the flags a CLI
// invocation would otherwise have to repeat every run.
package config

import (
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/xs-labs/unicorn-bios-go/internal/log"
	"github.com/xs-labs/unicorn-bios-go/internal/uberr"
)

// DefaultFilename is the profile name the CLI looks up in the boot
// image's directory; the CLI has no flag to load a profile from
// another path.
const DefaultFilename = "ubios.yml"

const maxConfigSize = 1024 * 1024

// Profile holds the subset of CLI flags that can be pre-set in a
// ubios.yml file. CLI flags, when explicitly passed, take precedence
// over the profile's memory size and toggles; breakpoints from the
// profile and from the command line are combined.
type Profile struct {
	MemoryMiB              uint64   `yaml:"memory_mib"`
	BreakOnInterrupt       bool     `yaml:"break_on_interrupt"`
	BreakOnInterruptReturn bool     `yaml:"break_on_interrupt_return"`
	Trap                   bool     `yaml:"trap"`
	DebugVideo             bool     `yaml:"debug_video"`
	SingleStep             bool     `yaml:"single_step"`
	NoUI                   bool     `yaml:"no_ui"`
	Breakpoints            []string `yaml:"breakpoints"`
}

// Load reads and parses a profile file. A missing file is not an
// error: it returns a zero Profile. World-writable files and files
// above maxConfigSize are refused for the same reason site deployment
// configs are: an attacker able to write next to the binary can
// already replace the binary, but refusing silently-tampered config
// keeps the failure mode boring.
func Load(path string) (Profile, error) {
	if path == "" {
		return Profile{}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Profile{}, nil
		}
		return Profile{}, &uberr.ConfigError{Reason: "cannot stat config: " + err.Error()}
	}

	if runtime.GOOS != "windows" && info.Mode().Perm()&0002 != 0 {
		return Profile{}, &uberr.ConfigError{Reason: "config file is world-writable: " + path}
	}

	if info.Size() > maxConfigSize {
		return Profile{}, &uberr.ConfigError{Reason: "config file too large: " + path}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, &uberr.ConfigError{Reason: "cannot read config: " + err.Error()}
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, &uberr.ConfigError{Reason: "invalid config: " + err.Error()}
	}

	if clog := log.Category(log.CategoryConfig); clog != nil {
		clog.Debug("loaded config profile", log.Path(path))
	}
	return p, nil
}

// NormalizeMemoryMiB applies the CLI's N=1-treated-as-2, minimum-2 rule.
func NormalizeMemoryMiB(mib uint64) uint64 {
	if mib == 1 {
		return 2
	}
	if mib < 2 {
		return 2
	}
	return mib
}
