package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/go-ini/ini"
)

// iniCodec decodes INI documents into viper's nested map form: one map per
// section, with DEFAULT section keys kept under their own "DEFAULT" entry.
// Values are taken literally, quotes included, except that "%%" stands for
// a single "%". "%(name)s" references are not expanded.
type iniCodec struct{}

var (
	percentUnescaper = strings.NewReplacer("%%", "%")
	percentEscaper   = strings.NewReplacer("%", "%%")
)

func (iniCodec) loadOptions() ini.LoadOptions {
	return ini.LoadOptions{
		IgnoreInlineComment:        true,
		AllowPythonMultilineValues: true,
		PreserveSurroundedQuote:    true,
	}
}

func (c iniCodec) Decode(b []byte, v map[string]any) error {
	cfg, err := ini.LoadSources(c.loadOptions(), b)
	if err != nil {
		return fmt.Errorf("parse ini: %w", err)
	}

	for _, section := range cfg.Sections() {
		keys := section.Keys()
		if len(keys) == 0 && section.Name() == ini.DefaultSection {
			continue
		}
		values := make(map[string]any, len(keys))
		for _, key := range keys {
			values[key.Name()] = percentUnescaper.Replace(key.Value())
		}
		v[section.Name()] = values
	}
	return nil
}

func (iniCodec) Encode(v map[string]any) ([]byte, error) {
	cfg := ini.Empty()

	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values, ok := v[name].(map[string]any)
		if !ok {
			if _, err := cfg.Section(ini.DefaultSection).NewKey(name, percentEscaper.Replace(fmt.Sprint(v[name]))); err != nil {
				return nil, err
			}
			continue
		}

		section, err := cfg.NewSection(name)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, err := section.NewKey(key, percentEscaper.Replace(fmt.Sprint(values[key]))); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
