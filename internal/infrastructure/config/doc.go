// Package config handles loading and validating therapylink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials and key paths should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Private keys referenced by mqtt.broker.key_file must not be world-readable
//
// Durations are written as Go duration strings ("10s", "500ms").
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.MachineType)
package config
