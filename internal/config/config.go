// Package config translates viper's merged flag/file/env view into a
// pkg/linker.Configuration. pkg/linker itself never imports viper or
// cobra; this is the one place that bridge happens.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/rv32ld/rv32ld/pkg/linker"
)

// fileSection mirrors one entry of a config file's `sections:` list.
type fileSection struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
}

// FromViper builds a linker.Configuration from v, layering the
// `sections`, `entry`, `segment-align` and `output` keys (set by a config
// file, environment variables, or bound flags, in viper's usual
// precedence order) on top of linker.DefaultConfiguration.
func FromViper(v *viper.Viper, inputPaths []string) (linker.Configuration, error) {
	cfg := linker.DefaultConfiguration()
	cfg.InputPaths = inputPaths

	if entry := v.GetString("entry"); entry != "" {
		cfg.EntryLabel = entry
	}
	if output := v.GetString("output"); output != "" {
		cfg.OutputPath = output
	}
	if align := v.GetString("segment-align"); align != "" {
		n, err := strconv.ParseUint(align, 0, 32)
		if err != nil {
			return cfg, fmt.Errorf("parsing segment-align %q: %w", align, err)
		}
		cfg.SegmentAlignment = uint32(n)
	}

	var sections []fileSection
	if err := v.UnmarshalKey("sections", &sections); err != nil {
		return cfg, fmt.Errorf("parsing sections: %w", err)
	}
	for _, s := range sections {
		addr, err := parseAddress(s.Address)
		if err != nil {
			return cfg, fmt.Errorf("section %q: %w", s.Name, err)
		}
		setSection(&cfg, s.Name, addr)
	}

	if flagSections := v.GetStringSlice("section"); len(flagSections) > 0 {
		for _, spec := range flagSections {
			name, addrStr, ok := strings.Cut(spec, "=")
			if !ok {
				return cfg, fmt.Errorf("malformed --section %q, expected name=0xADDR", spec)
			}
			addr, err := parseAddress(addrStr)
			if err != nil {
				return cfg, fmt.Errorf("--section %q: %w", spec, err)
			}
			setSection(&cfg, name, addr)
		}
	}

	return cfg, nil
}

// setSection assigns name's virtual address in cfg.Sections, updating an
// existing entry in place if name already appears rather than appending
// a duplicate. A repeated `--section name=...` flag (or a name repeated
// across the config file's `sections:` list and the flag) therefore
// means "use this address".
func setSection(cfg *linker.Configuration, name string, addr uint32) {
	for i := range cfg.Sections {
		if cfg.Sections[i].Name == name {
			cfg.Sections[i].VirtualAddress = addr
			return
		}
	}
	cfg.Sections = append(cfg.Sections, linker.SectionConfig{Name: name, VirtualAddress: addr})
}

// parseAddress accepts 0x-hex, 0b-binary and plain decimal forms.
func parseAddress(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(n), nil
}
