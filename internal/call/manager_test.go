package call

import (
	"context"
	"testing"

	"github.com/Radicalscale/virevo/pkg/docstore"
	"github.com/Radicalscale/virevo/pkg/docstore/mock"
	"github.com/Radicalscale/virevo/pkg/store/memstore"
)

func seedAgent(store *mock.Store, id string) {
	store.Agents[id] = &docstore.AgentRecord{
		ID:           id,
		UserID:       "user-1",
		AgentType:    "single_prompt",
		SystemPrompt: "You are a helpful assistant.",
		Settings:     map[string]any{"llm_provider": "openai"},
	}
}

func TestManager_CreateAndGet(t *testing.T) {
	docs := mock.New()
	seedAgent(docs, "agent-1")
	m := NewManager(docs, memstore.New(), nil)

	ctx := context.Background()
	sess, err := m.Create(ctx, "call-1", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.CachedSystemPrompt != "You are a helpful assistant." {
		t.Errorf("CachedSystemPrompt = %q", sess.CachedSystemPrompt)
	}
	if _, ok := sess.Variables()["now"]; !ok {
		t.Error("expected Create to seed the now variable")
	}

	got, err := m.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Error("Get did not return the same in-process session instance")
	}
}

func TestManager_Get_ReconstructsFromCrossWorkerStore(t *testing.T) {
	docs := mock.New()
	seedAgent(docs, "agent-1")
	st := memstore.New()
	m1 := NewManager(docs, st, nil)

	ctx := context.Background()
	sess, err := m1.Create(ctx, "call-1", "agent-1", "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess.SetCurrentNodeID("node-7")
	if err := m1.Persist(ctx, sess); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Simulate a different worker with no in-process session table.
	m2 := NewManager(docs, st, nil)
	restored, err := m2.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if restored.CurrentNodeID() != "node-7" {
		t.Errorf("CurrentNodeID = %q, want node-7", restored.CurrentNodeID())
	}
}

func TestManager_Get_MissingWithoutStore(t *testing.T) {
	docs := mock.New()
	m := NewManager(docs, nil, nil)
	if _, err := m.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown call with no cross-worker store")
	}
}

func TestManager_Destroy(t *testing.T) {
	docs := mock.New()
	seedAgent(docs, "agent-1")
	st := memstore.New()
	m := NewManager(docs, st, nil)

	ctx := context.Background()
	if _, err := m.Create(ctx, "call-1", "agent-1", "user-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.Destroy(ctx, "call-1")

	if _, err := m.Get(ctx, "call-1"); err == nil {
		t.Fatal("expected Get to fail after Destroy")
	}
}
