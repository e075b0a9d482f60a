package memo

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Config is the file-based form of a Cacher configuration.
//
//	root: .cache
//	codec: json
//	lockTimeout: 30s
//	force: false
//	decider:
//	  policy: timeout      # absent | timeout | compare
//	  timeout: 1h
//	  timeRef: modified    # modified | accessed
//	  argument: path       # compare only
type Config struct {
	Root        string        `mapstructure:"root"`
	Codec       string        `mapstructure:"codec"`
	LockTimeout time.Duration `mapstructure:"lockTimeout"`
	Force       bool          `mapstructure:"force"`
	Decider     DeciderConfig `mapstructure:"decider"`
}

// DeciderConfig selects and parameterizes the update policy.
type DeciderConfig struct {
	Policy   string        `mapstructure:"policy"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TimeRef  string        `mapstructure:"timeRef"`
	Argument string        `mapstructure:"argument"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		Root:        DefaultRoot,
		Codec:       "json",
		LockTimeout: -1,
		Decider: DeciderConfig{
			Policy:  "absent",
			Timeout: -1,
		},
	}
}

// LoadConfig reads a YAML configuration file from fs.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return DecodeConfig(raw)
}

// DecodeConfig decodes a generic map, as produced by YAML or JSON parsers,
// over DefaultConfig. Durations are strings such as "90s". Unknown keys are
// an error.
func DecodeConfig(raw map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err == nil {
		err = decoder.Decode(raw)
	}
	if err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NewDecider builds the configured Decider. Compare reads input files from fs.
func (dc DeciderConfig) NewDecider(fs afero.Fs) (Decider, error) {
	switch strings.ToLower(dc.Policy) {
	case "", "absent":
		return Absent(), nil
	case "timeout":
		ref, err := ParseTimeRef(dc.TimeRef)
		if err != nil {
			return nil, err
		}
		return Timeout(dc.Timeout, ref), nil
	case "compare":
		if dc.Argument == "" {
			return nil, fmt.Errorf("compare policy needs an argument name")
		}
		return Compare(dc.Argument, fs), nil
	default:
		return nil, fmt.Errorf("unknown decider policy %q", dc.Policy)
	}
}

// Open creates the FileStore and Cacher described by cfg. Extra options are
// applied after the configured ones. The returned ForceSwitch is the one the
// Cacher consults and starts in the configured state.
func (cfg Config) Open(fs afero.Fs, options ...Option) (*Cacher, *FileStore, *ForceSwitch, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	c, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := NewFileStore(cfg.Root, c, WithStoreFs(fs))
	if err != nil {
		return nil, nil, nil, err
	}
	decider, err := cfg.Decider.NewDecider(fs)
	if err != nil {
		return nil, nil, nil, err
	}

	force := NewForceSwitch()
	force.Set(cfg.Force)

	opts := append([]Option{
		WithDecider(decider),
		WithLockTimeout(cfg.LockTimeout),
		WithForce(force),
	}, options...)

	cacher, err := New(store, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return cacher, store, force, nil
}
