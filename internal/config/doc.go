// Package config provides configuration management for the stream watcher.
//
// Process settings are loaded from environment variables and validated on
// startup. Worker definitions live in a YAML file whose source descriptors and
// option values are Handlebars templates rendered once at load time with the
// worker name, the file's vars and the process environment.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defs, err := config.LoadWorkers(cfg.WorkersFile, cfg)
package config
