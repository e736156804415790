// configgen writes a starter epgiod configuration or checks an existing one,
// flagging keys the daemon would silently ignore.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/epglabs/epgio/internal/config"
)

func main() {
	var (
		out   = flag.String("out", "", "write a starter configuration to this path")
		check = flag.String("check", "", "validate an existing configuration file")
		force = flag.Bool("force", false, "overwrite an existing file")
	)
	flag.Parse()

	switch {
	case *out != "":
		if err := writeTemplate(*out, *force); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *out)
	case *check != "":
		if err := checkFile(*check); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s is valid\n", *check)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func writeTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use -force to overwrite", path)
		}
	}
	return os.WriteFile(path, []byte(config.Template), 0o644)
}

func checkFile(path string) error {
	var cfg config.Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		fmt.Fprintf(os.Stderr, "warning: unknown key %q\n", key)
	}

	// Re-load through the daemon's own path so defaults overlay the same way
	// they will at startup.
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	return loaded.Validate()
}
