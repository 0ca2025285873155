// Package config loads the serializable subset of Pensieve's construction
// options — a "profile" — from a TOML file with an environment variable
// overlay, and can hot-reload that profile when the file changes on disk.
// The non-serializable option (the FunctionDurations sink) is always
// supplied programmatically and is never part of a profile.
package config

import "fmt"

// Profile is the serializable subset of pensieve.Options.
type Profile struct {
	Name           string `mapstructure:"name"             toml:"name"`
	HideIgnored    bool   `mapstructure:"hide_ignored"     toml:"hide_ignored"`
	GraphDirection string `mapstructure:"graph_direction"  toml:"graph_direction"`
	NumThreads     int    `mapstructure:"num_threads"      toml:"num_threads"`
	Lazy           bool   `mapstructure:"lazy"             toml:"lazy"`
	Materialize    bool   `mapstructure:"materialize"      toml:"materialize"`
	Backup         string `mapstructure:"backup"           toml:"backup"` // "" disables backup
	Echo           string `mapstructure:"echo"             toml:"echo"`  // "silent" | "summary" | "verbose"
	DoHash         bool   `mapstructure:"do_hash"          toml:"do_hash"`
	ShowTypes      bool   `mapstructure:"show_types"       toml:"show_types"`
}

// ValidEchoLevels lists the recognised values of Profile.Echo.
var ValidEchoLevels = []string{"silent", "summary", "verbose"}

// Default returns the built-in default profile: single-threaded,
// materializing, eager, hashed, backup disabled.
func Default() Profile {
	return Profile{
		Name:           "pensieve",
		HideIgnored:    false,
		GraphDirection: "TB",
		NumThreads:     1,
		Lazy:           false,
		Materialize:    true,
		Backup:         "",
		Echo:           "summary",
		DoHash:         true,
		ShowTypes:      false,
	}
}

func validate(p Profile) error {
	var errs []string
	if p.NumThreads == 0 {
		errs = append(errs, "num_threads must not be 0 (use 1 for sequential, -1 for auto, or a positive worker count)")
	}
	if !isValidEcho(p.Echo) {
		errs = append(errs, fmt.Sprintf("echo must be one of %v, got %q", ValidEchoLevels, p.Echo))
	}
	if len(errs) == 0 {
		return nil
	}
	msg := "invalid profile:"
	for _, e := range errs {
		msg += "\n  - " + e
	}
	return fmt.Errorf("%s", msg)
}

func isValidEcho(v string) bool {
	for _, e := range ValidEchoLevels {
		if v == e {
			return true
		}
	}
	return false
}
