package services

import (
	"flag"
	"fmt"
)

type Flags struct {
	Mode       string
	ConfigPath string
	Submitter  string
	Port       int
}

func FlagParse() (Flags, error) {
	var flags Flags

	flag.StringVar(&flags.Mode, "mode", "", "service mode: api-service or production-runner")
	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "path to config file")
	flag.StringVar(&flags.Submitter, "submitter", "", "restrict the production pass to one submitter (production-runner only)")
	flag.IntVar(&flags.Port, "port", 0, "override the api listen port")
	flag.Parse()

	switch flags.Mode {
	case "api-service", "production-runner":
	case "":
		return flags, fmt.Errorf("missing required flag: --mode")
	default:
		return flags, fmt.Errorf("unknown mode %q", flags.Mode)
	}

	return flags, nil
}
