package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"synnergy-network/internal/testutil"
)

func chdirRoot(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir("../.."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
}

func TestLoadOrderingDefaults(t *testing.T) {
	chdirRoot(t)
	viper.Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ordering.TransactionLimit != 1000 {
		t.Fatalf("expected default transaction limit 1000, got %d", cfg.Ordering.TransactionLimit)
	}
	if cfg.Ordering.NumberOfProposals != 3 {
		t.Fatalf("expected default number of proposals 3, got %d", cfg.Ordering.NumberOfProposals)
	}
	if cfg.Ordering.ProposalRequestTimeMS != 300 {
		t.Fatalf("expected default proposal request timeout 300ms, got %d", cfg.Ordering.ProposalRequestTimeMS)
	}
}

func TestLoadOrderingOverride(t *testing.T) {
	chdirRoot(t)
	viper.Reset()

	cfg, err := Load("bootstrap")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ordering.TransactionLimit != 500 {
		t.Fatalf("expected overridden transaction limit 500, got %d", cfg.Ordering.TransactionLimit)
	}
	if cfg.Ordering.NumberOfProposals != 5 {
		t.Fatalf("expected overridden number of proposals 5, got %d", cfg.Ordering.NumberOfProposals)
	}
	// Values absent from bootstrap.yaml must still carry their defaults.
	if cfg.Ordering.VoteDelayMS != 3000 {
		t.Fatalf("expected untouched default vote delay 3000, got %d", cfg.Ordering.VoteDelayMS)
	}
}

func TestLoadOrderingSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	data := []byte("network:\n  id: sandbox\nordering:\n  transaction_limit: 42\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ordering.TransactionLimit != 42 {
		t.Fatalf("expected sandboxed transaction limit 42, got %d", cfg.Ordering.TransactionLimit)
	}
	// Options the sandbox file never mentions still fall back to defaults.
	if cfg.Ordering.MSTExpirationMS != 86400000 {
		t.Fatalf("expected default MST expiration, got %d", cfg.Ordering.MSTExpirationMS)
	}
}
