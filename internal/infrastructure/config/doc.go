// Package config loads the FPF Core YAML configuration.
//
// Defaults cover a single-deployment install with a local SQLite file and
// no external services. FPF_* environment variables override the file;
// broker passwords, the InfluxDB token, the Slack webhook and the Redis
// password should only ever come from there.
//
//	cfg, err := config.Load(os.Getenv("FPF_CONFIG"))
//	if err != nil {
//	    return err
//	}
//	loc := cfg.Location() // deployment time zone, UTC when unset
package config
