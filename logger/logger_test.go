package logger

import (
	"testing"

	appconfig "feeseller/config"
)

func TestWithEnvAttachesValues(t *testing.T) {
	t.Setenv(appconfig.EnvEthNetwork, "mainnet")
	t.Setenv(appconfig.EnvMaxLiquidationFeePercent, "5")

	entry := Logger().WithEnv(appconfig.EnvEthNetwork, appconfig.EnvMaxLiquidationFeePercent)

	if got := entry.Data[appconfig.EnvEthNetwork]; got != "mainnet" {
		t.Errorf("%s = %v, want mainnet", appconfig.EnvEthNetwork, got)
	}
	if got := entry.Data[appconfig.EnvMaxLiquidationFeePercent]; got != "5" {
		t.Errorf("%s = %v, want 5", appconfig.EnvMaxLiquidationFeePercent, got)
	}
}

func TestConfigureRejectsBadLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	if err := Logger().Configure("verbose", "json", "stdout", 0); err == nil {
		t.Error("invalid level must be rejected")
	}
}
