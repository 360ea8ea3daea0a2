package config

import (
	"github.com/spf13/viper"
)

// SetDefaults applies the shipped defaults onto a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("instance", "")

	v.SetDefault("database.path", "conveyor.db")
	v.SetDefault("blob.dir", "")

	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.poll_interval", "10s")
	v.SetDefault("workers.invisibility", "30m")
	v.SetDefault("workers.stop_timeout", "30s")
	v.SetDefault("workers.rate_per_second", 0.0)
	v.SetDefault("workers.rate_burst", 1)

	v.SetDefault("log.json", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("purge.enabled", true)
	v.SetDefault("purge.max_age", "24h")
	v.SetDefault("purge.interval", "1h")
}
