// Package config handles loading and validating the Lutron bridge service
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Hub passwords and keystore passwords should be set through
//     LUTRON_BRIDGE_<ID>_PASSWORD and LUTRON_BRIDGE_<ID>_KEYSTORE_PASSWORD
//   - The config file should have restricted permissions (0600)
//   - The API is only served with a JWT secret of at least 32 characters
//
// The file is re-read on SIGHUP; bridges whose settings changed are
// updated in place.
//
// Usage:
//
//	cfg, err := config.Load("/etc/graylogic/lutron.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, b := range cfg.Bridges {
//	    fmt.Println(b.ID, b.Host)
//	}
package config
