package target

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

// Config is the YAML form of a target description.
//
//	name: toy
//	classes:
//	  - {name: A, size: 4}
//	  - {name: B, size: 8}
//	registers:
//	  - {name: r0, class: A}
//	  - {name: r1, class: A}
//	  - {name: r01, class: B, overlaps: [r0, r1]}
//	temp: [r0]
//	perm: [r1]
//	return: {A: r0, B: r01}
//	frame: fp
type Config struct {
	Name      string            `yaml:"name"`
	Classes   []ClassConfig     `yaml:"classes"`
	Registers []RegisterConfig  `yaml:"registers"`
	Temp      []string          `yaml:"temp"`
	Perm      []string          `yaml:"perm"`
	Return    map[string]string `yaml:"return"`
	Frame     string            `yaml:"frame"`
}

// ClassConfig describes a register class.
type ClassConfig struct {
	Name string `yaml:"name"`
	Size int64  `yaml:"size"`
}

// RegisterConfig describes a physical register.
type RegisterConfig struct {
	Name     string   `yaml:"name"`
	Class    string   `yaml:"class"`
	Overlaps []string `yaml:"overlaps,omitempty"`
}

// Parse builds a Machine from YAML.
func Parse(data []byte) (*Machine, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse target")
	}
	return New(cfg)
}

// Load reads a YAML target description from path.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read target")
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "%s", path)
	}
	return m, nil
}
