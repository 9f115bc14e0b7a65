package password

import "testing"

// Login cost must not depend on whether the user exists: both paths run one
// Argon2id verification with the same parameters.
func benchmarkLoginPaths(b *testing.B, cfg Config) {
	const pw = "correct-horse-battery-staple"

	stored, err := cfg.Hash(pw)
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}
	dummy, err := cfg.DummyHash()
	if err != nil {
		b.Fatalf("DummyHash: %v", err)
	}

	b.Run("known_user", func(b *testing.B) {
		for b.Loop() {
			if ok, err := cfg.Verify(stored, pw); err != nil || !ok {
				b.Fatalf("Verify: ok=%v err=%v", ok, err)
			}
		}
	})
	b.Run("unknown_user", func(b *testing.B) {
		for b.Loop() {
			if ok, err := cfg.Verify(dummy, pw); err != nil || ok {
				b.Fatalf("Verify(dummy): ok=%v err=%v", ok, err)
			}
		}
	})
}

func BenchmarkLogin_DefaultParams(b *testing.B) {
	benchmarkLoginPaths(b, DefaultConfig())
}

func BenchmarkLogin_MinimumParams(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	benchmarkLoginPaths(b, cfg)
}
