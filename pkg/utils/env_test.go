package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvOrDefault(t *testing.T) {
	// NEOS_ENV is the override pkg/config resolves through this helper;
	// absent means "no environment overlay".
	require.Equal(t, "", EnvOrDefault("NEOS_ENV_ABSENT", ""))
	require.Equal(t, "fallback", EnvOrDefault("NEOS_ENV_ABSENT", "fallback"))

	t.Setenv("NEOS_ENV", "staging")
	require.Equal(t, "staging", EnvOrDefault("NEOS_ENV", ""))

	t.Setenv("NEOS_ENV", "")
	require.Equal(t, "fallback", EnvOrDefault("NEOS_ENV", "fallback"), "empty value counts as unset")
}

func TestEnvOrDefaultInt(t *testing.T) {
	require.Equal(t, 10, EnvOrDefaultInt("NEOS_INT_ABSENT", 10))

	t.Setenv("NEOS_INT", "5")
	require.Equal(t, 5, EnvOrDefaultInt("NEOS_INT", 10))

	t.Setenv("NEOS_INT", "not-a-number")
	require.Equal(t, 7, EnvOrDefaultInt("NEOS_INT", 7))
}

func TestEnvOrDefaultUint64(t *testing.T) {
	require.EqualValues(t, 99, EnvOrDefaultUint64("NEOS_UINT_ABSENT", 99))

	t.Setenv("NEOS_UINT", "42")
	require.EqualValues(t, 42, EnvOrDefaultUint64("NEOS_UINT", 99))

	t.Setenv("NEOS_UINT", "-1")
	require.EqualValues(t, 77, EnvOrDefaultUint64("NEOS_UINT", 77))
}
