package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds what Hash accepts. Verify never applies it: stored
// credentials predating a policy change must still log in.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is the production baseline. Parallelism follows the CPU
// count clamped to [1..4].
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 12,
			MaxLength: 256,
		},
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv loads Config from the process environment.
//
// Keys:
//   - GATEKEEP_PASSWORD_MIN_LEN, GATEKEEP_PASSWORD_MAX_LEN
//   - GATEKEEP_PASSWORD_REJECT_VERY_WEAK
//   - GATEKEEP_ARGON2_MEMORY_KIB, GATEKEEP_ARGON2_ITERATIONS,
//     GATEKEEP_ARGON2_PARALLELISM, GATEKEEP_ARGON2_SALT_LEN,
//     GATEKEEP_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup is FromEnv over an arbitrary key source (the app passes its
// viper instance through here).
func FromLookup(lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()
	if lookup == nil {
		return cfg, nil
	}

	intKeys := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"GATEKEEP_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"GATEKEEP_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, k := range intKeys {
		v, ok := lookup(k.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := atoiRange(v, k.min, k.max)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, k.key, err)
		}
		*k.dst = n
	}

	if v, ok := lookup("GATEKEEP_PASSWORD_REJECT_VERY_WEAK"); ok && strings.TrimSpace(v) != "" {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: GATEKEEP_PASSWORD_REJECT_VERY_WEAK: %v", ErrConfig, err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	par := uint32(cfg.Params.Parallelism)
	u32Keys := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"GATEKEEP_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"GATEKEEP_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"GATEKEEP_ARGON2_PARALLELISM", 1, 64, &par},
		{"GATEKEEP_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"GATEKEEP_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, k := range u32Keys {
		v, ok := lookup(k.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		u, err := atou32(v, k.min, k.max)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, k.key, err)
		}
		*k.dst = u
	}
	p, err := u32ToU8(par)
	if err != nil {
		return Config{}, fmt.Errorf("%w: GATEKEEP_ARGON2_PARALLELISM: %v", ErrConfig, err)
	}
	cfg.Params.Parallelism = p

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("%w: min_len(%d) > max_len(%d)",
			ErrConfig, cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
