package config

import (
	"flag"
	"fmt"
)

// Flags are the command line switches of the hive binary.
type Flags struct {
	ConfigPath string
	Setup      bool
}

// ParseFlags parses args without the program name.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("hive", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config, example: hive.yaml")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if fs.NArg() > 0 {
		return Flags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}
