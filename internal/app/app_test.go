package app

import (
	"context"
	"testing"

	"github.com/Radicalscale/virevo/internal/config"
	"github.com/Radicalscale/virevo/pkg/docstore/mock"
	llmmock "github.com/Radicalscale/virevo/pkg/provider/llm/mock"
	"github.com/Radicalscale/virevo/pkg/store/memstore"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":0", PublicBaseURL: "http://localhost:0"},
		Vault:     config.VaultConfig{MasterKeyEnv: "VIREVO_TEST_MASTER_KEY"},
		Knowledge: config.KnowledgeConfig{TopK: 5},
	}
}

// TestNew_WiresSubsystemsWithInjectedDoubles is a smoke test confirming App.New
// succeeds with test doubles for every external dependency (docstore, store,
// vault key) and produces a usable call manager and orchestrator factory —
// this is the minimum coverage every other package's wiring assumes exists.
func TestNew_WiresSubsystemsWithInjectedDoubles(t *testing.T) {
	t.Setenv("VIREVO_TEST_MASTER_KEY", "unit-test-passphrase")

	docs := mock.New()
	providers := &Providers{LLM: &llmmock.Provider{}}

	a, err := New(context.Background(), testConfig(), providers,
		WithDocStore(docs),
		WithStore(memstore.New()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.CallManager() == nil {
		t.Fatal("CallManager() returned nil")
	}

	orch := a.orchestratorFor(nil, nil)
	if orch == nil {
		t.Fatal("orchestratorFor returned nil")
	}
}

// TestNew_MissingMasterKeyEnvFails covers the required-config validation path.
func TestNew_MissingMasterKeyEnvFails(t *testing.T) {
	cfg := testConfig()
	cfg.Vault.MasterKeyEnv = "VIREVO_TEST_UNSET_MASTER_KEY"

	_, err := New(context.Background(), cfg, &Providers{}, WithDocStore(mock.New()), WithStore(memstore.New()))
	if err == nil {
		t.Fatal("expected an error when the vault master key env var is unset")
	}
}
