package main

import (
	"flag"
	"log"

	"github.com/danmuck/rigctl/internal/config"
)

const defaultPath = "cmd/rigctl/config.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated rig config %q at %s (%d joints, policy %s)", cfg.Name, *input, cfg.Joints.Count, cfg.Loop.Policy)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote rig config template to %s", *output)
}
