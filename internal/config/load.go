package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// current holds the process-wide default profile for pensieves constructed
// without an explicit profile override. It starts at Default().
var current atomic.Pointer[Profile]

// Current returns the active default profile, falling back to Default()
// if none has been loaded yet.
func Current() Profile {
	if p := current.Load(); p != nil {
		return *p
	}
	d := Default()
	current.Store(&d)
	return d
}

func set(p Profile) {
	current.Store(&p)
}

// Load reads a profile from path, overlaid with PENSIEVE_-prefixed
// environment variables (e.g. PENSIEVE_NUM_THREADS=4), validates it, and
// installs it as the current default profile.
func Load(path string) (Profile, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)

	d := Default()
	setDefaults(v, d)

	v.SetEnvPrefix("PENSIEVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return Profile{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	p := Default()
	if err := v.Unmarshal(&p, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return Profile{}, fmt.Errorf("config: unmarshalling %s: %w", path, err)
	}

	if err := validate(p); err != nil {
		return Profile{}, err
	}

	set(p)
	return p, nil
}

// Write marshals p as TOML to path, creating parent directories as needed.
func Write(path string, p Profile) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("config: marshalling profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d Profile) {
	v.SetDefault("name", d.Name)
	v.SetDefault("hide_ignored", d.HideIgnored)
	v.SetDefault("graph_direction", d.GraphDirection)
	v.SetDefault("num_threads", d.NumThreads)
	v.SetDefault("lazy", d.Lazy)
	v.SetDefault("materialize", d.Materialize)
	v.SetDefault("backup", d.Backup)
	v.SetDefault("echo", d.Echo)
	v.SetDefault("do_hash", d.DoHash)
	v.SetDefault("show_types", d.ShowTypes)
}
