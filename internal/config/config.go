// internal/config/config.go
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	DefaultFile    = "settings.ini"
	DefaultSection = "S3"

	KeyAccessKey  = "access_key"
	KeySecretKey  = "secret_key"
	KeyBucketName = "bucket_name"
	KeyPath       = "path"
	KeyFinalDir   = "final_dir"
	KeyDelete     = "delete"

	defaultSectionName = "default"
	keyDelimiter       = "::"
)

var reservedKeys = map[string]bool{
	KeyAccessKey:  true,
	KeySecretKey:  true,
	KeyBucketName: true,
	KeyPath:       true,
	KeyFinalDir:   true,
	KeyDelete:     true,
}

// Config is one section of the downloader's INI configuration.
type Config struct {
	Section    string
	AccessKey  string
	SecretKey  string
	BucketName string
	Path       string
	FinalDir   string
	Delete     bool

	// ExtraOptions holds every non-reserved key of the section. The values
	// are handed to the storage client constructor untouched.
	ExtraOptions map[string]string
}

// Load reads the given INI files in order and extracts section from the
// merged result. Later files override earlier ones key by key.
func Load(paths []string, section string) (*Config, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("config: no configuration files given")
	}

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	for i, path := range paths {
		v.SetConfigFile(path)
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	values, err := sectionValues(v.AllSettings(), section)
	if err != nil {
		return nil, err
	}

	return fromValues(section, values)
}

func newViper() (*viper.Viper, error) {
	registry := viper.NewCodecRegistry()
	if err := registry.RegisterCodec("ini", iniCodec{}); err != nil {
		return nil, fmt.Errorf("config: registering ini codec: %w", err)
	}

	v := viper.NewWithOptions(
		viper.KeyDelimiter(keyDelimiter),
		viper.WithCodecRegistry(registry),
	)
	v.SetConfigType("ini")
	return v, nil
}

// sectionValues flattens the named section into strings, inheriting any key
// of the DEFAULT section the section does not set itself.
func sectionValues(all map[string]any, section string) (map[string]string, error) {
	raw, ok := all[strings.ToLower(section)].(map[string]any)
	if !ok {
		return nil, &MissingKeyError{Section: section}
	}

	values := make(map[string]string, len(raw))
	if defaults, ok := all[defaultSectionName].(map[string]any); ok {
		for key, val := range defaults {
			values[key] = fmt.Sprint(val)
		}
	}
	for key, val := range raw {
		values[key] = fmt.Sprint(val)
	}
	return values, nil
}

func fromValues(section string, values map[string]string) (*Config, error) {
	cfg := &Config{
		Section:      section,
		Path:         values[KeyPath],
		ExtraOptions: make(map[string]string),
	}

	required := []struct {
		key string
		dst *string
	}{
		{KeyAccessKey, &cfg.AccessKey},
		{KeySecretKey, &cfg.SecretKey},
		{KeyBucketName, &cfg.BucketName},
		{KeyFinalDir, &cfg.FinalDir},
	}
	for _, r := range required {
		val, ok := values[r.key]
		if !ok {
			return nil, &MissingKeyError{Section: section, Key: r.key}
		}
		*r.dst = val
	}

	if raw, ok := values[KeyDelete]; ok {
		b, err := ParseBool(raw)
		if err != nil {
			return nil, &MalformedValueError{Section: section, Key: KeyDelete, Value: raw, Reason: err.Error()}
		}
		cfg.Delete = b
	}

	for key, val := range values {
		if !reservedKeys[key] {
			cfg.ExtraOptions[key] = val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that must be non-empty to run a pass.
// Credentials may be blank; the storage SDK then falls back to its own
// credential chain.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BucketName) == "" {
		return &MalformedValueError{Section: c.Section, Key: KeyBucketName, Value: c.BucketName, Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.FinalDir) == "" {
		return &MalformedValueError{Section: c.Section, Key: KeyFinalDir, Value: c.FinalDir, Reason: "must not be empty"}
	}
	return nil
}

// MarshalZerologObject logs the configuration without its secret key.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	keys := make([]string, 0, len(c.ExtraOptions))
	for k := range c.ExtraOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.Str("section", c.Section).
		Str("access_key", c.AccessKey).
		Str("bucket", c.BucketName).
		Str("path", c.Path).
		Str("final_dir", c.FinalDir).
		Bool("delete", c.Delete).
		Strs("extra_options", keys)
}

// ParseBool accepts the boolean spellings of Python-style INI files:
// 1/yes/true/on and 0/no/false/off, case-insensitively.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}
