// Package flagenv registers flags whose defaults come from environment variables,
// so every setting works as -flag or as CAFE_* variable.
package flagenv

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Prefix is prepended to every variable name.
const Prefix = "CAFE_"

func lookup(env string) (string, bool) {
	if env == "" {
		return "", false
	}
	v, ok := os.LookupEnv(Prefix + env)
	return v, ok && v != ""
}

func describe(usage, env string) string {
	if env == "" {
		return usage
	}
	return usage + " [$" + Prefix + env + "]"
}

// String registers a string flag.
func String(fs *flag.FlagSet, name, env, def, usage string) *string {
	if v, ok := lookup(env); ok {
		def = v
	}
	return fs.String(name, def, describe(usage, env))
}

// Bool registers a bool flag. Unparsable variables keep def.
func Bool(fs *flag.FlagSet, name, env string, def bool, usage string) *bool {
	if v, ok := lookup(env); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			def = b
		}
	}
	return fs.Bool(name, def, describe(usage, env))
}

// Int registers an int flag. Unparsable variables keep def.
func Int(fs *flag.FlagSet, name, env string, def int, usage string) *int {
	if v, ok := lookup(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			def = n
		}
	}
	return fs.Int(name, def, describe(usage, env))
}

// Uint64 registers a uint64 flag. Unparsable variables keep def.
func Uint64(fs *flag.FlagSet, name, env string, def uint64, usage string) *uint64 {
	if v, ok := lookup(env); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			def = n
		}
	}
	return fs.Uint64(name, def, describe(usage, env))
}

// Duration registers a duration flag. Unparsable variables keep def.
func Duration(fs *flag.FlagSet, name, env string, def time.Duration, usage string) *time.Duration {
	if v, ok := lookup(env); ok {
		if d, err := time.ParseDuration(v); err == nil {
			def = d
		}
	}
	return fs.Duration(name, def, describe(usage, env))
}
