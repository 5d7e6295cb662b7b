package cli

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/mcscan/internal/config"
	"github.com/anstrom/mcscan/internal/logging"
)

// Flag to config key bindings shared by the scanning commands.
var scanFlagKeys = map[string]string{
	"workers":     "scanning.worker_count",
	"timeout":     "scanning.probe_timeout",
	"rate":        "scanning.rate_limit",
	"fail-fast":   "scanning.fail_fast",
	"resolve-srv": "scanning.resolve_srv",
	"output":      "persistence.output_path",
	"flush":       "persistence.flush_interval",
}

// addScanFlags registers the flags listed in scanFlagKeys on flags.
func addScanFlags(flags *pflag.FlagSet) {
	flags.IntP("workers", "w", 0, "number of concurrent probe workers")
	flags.Duration("timeout", 0, "status query timeout")
	flags.Float64("rate", 0, "probes per second across all workers (0 = unlimited)")
	flags.Bool("fail-fast", true, "abort the scan on an unexpected probe failure")
	flags.Bool("resolve-srv", false, "resolve _minecraft._tcp SRV records for host names")
	flags.StringP("output", "o", "", "append discovered servers to this .txt file")
	flags.Duration("flush", 0, "interval between persistence flushes")
}

// bindFlags binds each flag to its config key. Bindings are made when a
// command runs so commands sharing a flag name do not override each other.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", name, err)
		}
	}
}

// applyOverrides copies explicitly set flags and MCSCAN_* environment
// variables over the file configuration.
func applyOverrides(cfg *config.Config) {
	if viper.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(viper.GetString("logging.level"))
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(viper.GetString("logging.format"))
	}
	if viper.IsSet("database.driver") {
		cfg.Database.Driver = viper.GetString("database.driver")
	}
	if viper.IsSet("database.path") {
		cfg.Database.Path = viper.GetString("database.path")
	}
	if viper.IsSet("database.host") {
		cfg.Database.Host = viper.GetString("database.host")
	}
	if viper.IsSet("database.password") {
		cfg.Database.Password = viper.GetString("database.password")
	}
	if viper.IsSet("scanning.worker_count") {
		cfg.Scanning.WorkerCount = viper.GetInt("scanning.worker_count")
	}
	if viper.IsSet("scanning.probe_timeout") {
		cfg.Scanning.ProbeTimeout = viper.GetDuration("scanning.probe_timeout")
	}
	if viper.IsSet("scanning.rate_limit") {
		cfg.Scanning.RateLimit = viper.GetFloat64("scanning.rate_limit")
	}
	if viper.IsSet("scanning.fail_fast") {
		cfg.Scanning.FailFast = viper.GetBool("scanning.fail_fast")
	}
	if viper.IsSet("scanning.resolve_srv") {
		cfg.Scanning.ResolveSRV = viper.GetBool("scanning.resolve_srv")
	}
	if viper.IsSet("persistence.output_path") {
		cfg.Persistence.OutputPath = viper.GetString("persistence.output_path")
	}
	if viper.IsSet("persistence.flush_interval") {
		cfg.Persistence.FlushInterval = viper.GetDuration("persistence.flush_interval")
	}
	if viper.IsSet("api.listen_addr") {
		cfg.API.ListenAddr = viper.GetString("api.listen_addr")
	}
	if viper.IsSet("api.port") {
		cfg.API.Port = viper.GetInt("api.port")
	}
	if viper.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	}
	if viper.IsSet("metrics.listen_addr") {
		cfg.Metrics.ListenAddr = viper.GetString("metrics.listen_addr")
	}
	if viper.IsSet("schedule.cron") {
		cfg.Schedule.Cron = viper.GetString("schedule.cron")
	}
	if viper.IsSet("schedule.selection") {
		cfg.Schedule.Selection = viper.GetString("schedule.selection")
	}
}
