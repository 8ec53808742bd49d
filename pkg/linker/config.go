package linker

// SectionConfig pre-declares the base virtual address a named output
// section should be laid out at.
type SectionConfig struct {
	Name           string
	VirtualAddress uint32
}

// Configuration is the linker's entire external input surface.
// internal/config populates one of these from viper/yaml and cobra
// flags; pkg/linker itself never reads a flag or a config file directly.
type Configuration struct {
	Sections         []SectionConfig
	InputPaths       []string
	SegmentAlignment uint32
	EntryLabel       string
	OutputPath       string
}

// DefaultConfiguration returns the documented defaults: segment
// alignment 0x1000, entry label "_start", output path "a.out".
func DefaultConfiguration() Configuration {
	return Configuration{
		SegmentAlignment: 0x1000,
		EntryLabel:       "_start",
		OutputPath:       "a.out",
	}
}
