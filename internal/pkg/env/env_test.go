package env

import "testing"

func TestSetupEnvFileFallsBackToOSEnv(t *testing.T) {
	// No .env file exists relative to this package; setup must not panic
	// and GetEnv must keep resolving OS environment variables.
	SetupEnvFile()

	t.Setenv("PARKPASS_ENV_TEST_KEY", "from-os")
	if got := GetEnv("PARKPASS_ENV_TEST_KEY", "default"); got != "from-os" {
		t.Fatalf("GetEnv = %q, want the OS value", got)
	}
	if got := GetEnv("PARKPASS_ENV_TEST_MISSING", "default"); got != "default" {
		t.Fatalf("GetEnv = %q, want the default", got)
	}
}
