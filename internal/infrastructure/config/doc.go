// Package config handles loading and validating conductor configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Optional .env files for secrets
//   - Overriding with CONDUCTOR_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	if err := config.LoadEnvFile(".env", false); err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
