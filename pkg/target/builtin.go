package target

import (
	"fmt"
	"sort"

	"tlog.app/go/errors"
)

// ErrUnknownTarget is returned by Lookup for names with no built-in machine.
var ErrUnknownTarget = errors.New("unknown target")

var builtins = map[string]func() Config{
	"arm64": arm64Config,
	"i386":  i386Config,
	"toy":   toyConfig,
}

// Names lists the built-in targets.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the named built-in machine.
func Lookup(name string) (*Machine, error) {
	cfg, ok := builtins[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownTarget, "%q (have %v)", name, Names())
	}
	return New(cfg())
}

// MustLookup is Lookup for names known to exist.
func MustLookup(name string) *Machine {
	m, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return m
}

// ARM64: X0-X28 without the platform register X18, and D0-D31.
// X19-X28 and D8-D15 are callee-saved.
func arm64Config() Config {
	cfg := Config{
		Name:    "arm64",
		Classes: []ClassConfig{{Name: "int", Size: 8}, {Name: "float", Size: 8}},
		Return:  map[string]string{"int": "x0", "float": "d0"},
		Frame:   "x29",
	}
	for i := 0; i <= 28; i++ {
		if i == 18 {
			continue
		}
		name := fmt.Sprintf("x%d", i)
		cfg.Registers = append(cfg.Registers, RegisterConfig{Name: name, Class: "int"})
		if i >= 19 {
			cfg.Perm = append(cfg.Perm, name)
		} else {
			cfg.Temp = append(cfg.Temp, name)
		}
	}
	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("d%d", i)
		cfg.Registers = append(cfg.Registers, RegisterConfig{Name: name, Class: "float"})
		if i >= 8 && i <= 15 {
			cfg.Perm = append(cfg.Perm, name)
		} else {
			cfg.Temp = append(cfg.Temp, name)
		}
	}
	return cfg
}

// i386: six 32-bit registers, every pair of them as a 64-bit register and
// the x87 stack as a third class.
func i386Config() Config {
	singles := []string{"eax", "edx", "ecx", "ebx", "esi", "edi"}
	cfg := Config{
		Name: "i386",
		Classes: []ClassConfig{
			{Name: "A", Size: 4},
			{Name: "B", Size: 8},
			{Name: "C", Size: 12},
		},
		Temp:   []string{"eax", "edx", "ecx"},
		Perm:   []string{"ebx", "esi", "edi"},
		Return: map[string]string{"A": "eax", "B": "eaxedx", "C": "fp0"},
		Frame:  "ebp",
	}
	for _, s := range singles {
		cfg.Registers = append(cfg.Registers, RegisterConfig{Name: s, Class: "A"})
	}
	for i := range singles {
		for j := i + 1; j < len(singles); j++ {
			cfg.Registers = append(cfg.Registers, RegisterConfig{
				Name:     singles[i] + singles[j],
				Class:    "B",
				Overlaps: []string{singles[i], singles[j]},
			})
		}
	}
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("fp%d", i)
		cfg.Registers = append(cfg.Registers, RegisterConfig{Name: name, Class: "C"})
		cfg.Temp = append(cfg.Temp, name)
	}
	return cfg
}

// toy: four singles, two pairs over them, one callee-saved register.
func toyConfig() Config {
	return Config{
		Name:    "toy",
		Classes: []ClassConfig{{Name: "A", Size: 4}, {Name: "B", Size: 8}},
		Registers: []RegisterConfig{
			{Name: "r0", Class: "A"},
			{Name: "r1", Class: "A"},
			{Name: "r2", Class: "A"},
			{Name: "r3", Class: "A"},
			{Name: "r01", Class: "B", Overlaps: []string{"r0", "r1"}},
			{Name: "r23", Class: "B", Overlaps: []string{"r2", "r3"}},
		},
		Temp:   []string{"r0", "r1", "r2"},
		Perm:   []string{"r3"},
		Return: map[string]string{"A": "r0", "B": "r01"},
		Frame:  "fp",
	}
}
