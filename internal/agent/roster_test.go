package agent

import (
	"errors"
	"testing"

	"github.com/crewline/arbiter/pkg/models"
)

func producerStub(id string, caps ...string) *StubProxy {
	return NewStub(StubConfig{ID: id, Role: models.RoleProducer, Capabilities: caps})
}

func validatorStub(id string, caps ...string) *StubProxy {
	return NewStub(StubConfig{ID: id, Role: models.RoleValidator, Capabilities: caps})
}

func TestRoster_Register(t *testing.T) {
	r := NewRoster()

	if err := r.Register(producerStub("p1", "go")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	if _, ok := r.Get("p1"); !ok {
		t.Error("Get(p1) should find the registered proxy")
	}
}

func TestRoster_RegisterDuplicate(t *testing.T) {
	r := NewRoster()

	if err := r.Register(producerStub("p1")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := r.Register(producerStub("p1"))
	if !errors.Is(err, ErrAgentExists) {
		t.Errorf("duplicate Register error = %v, want ErrAgentExists", err)
	}
}

func TestRoster_Agents(t *testing.T) {
	r := NewRoster()

	if err := r.Register(producerStub("p1", "go")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(validatorStub("v1", "review")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	infos := r.Agents()
	if len(infos) != 2 {
		t.Fatalf("Agents returned %d infos, want 2", len(infos))
	}
	// Registration order preserved.
	if infos[0].ID != "p1" || infos[1].ID != "v1" {
		t.Errorf("Agents order = [%s %s], want [p1 v1]", infos[0].ID, infos[1].ID)
	}
	if infos[1].Role != models.RoleValidator {
		t.Errorf("v1 role = %s, want validator", infos[1].Role)
	}
}

func TestRoster_MatchFiltersRoleAndCapabilities(t *testing.T) {
	r := NewRoster()

	for _, p := range []*StubProxy{
		producerStub("go-agent", "go", "test"),
		producerStub("py-agent", "python"),
		validatorStub("judge", "go"),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register %s failed: %v", p.ID(), err)
		}
	}

	got := r.Match(models.RoleProducer, []string{"go"})
	if len(got) != 1 || got[0].ID() != "go-agent" {
		t.Fatalf("Match(producer, go) = %v, want [go-agent]", ids(got))
	}

	// Multi-capability requirement: the agent must declare every one.
	if got := r.Match(models.RoleProducer, []string{"go", "python"}); len(got) != 0 {
		t.Errorf("Match(producer, go+python) = %v, want none", ids(got))
	}

	// No requirements: every producer is eligible.
	if got := r.Match(models.RoleProducer, nil); len(got) != 2 {
		t.Errorf("Match(producer, nil) = %v, want 2 proxies", ids(got))
	}
}

func TestRoster_MatchOrdersByLoadThenRegistration(t *testing.T) {
	r := NewRoster()

	for _, id := range []string{"a", "b", "c"} {
		if err := r.Register(producerStub(id, "go")); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	// a carries two in-flight tasks, b one, c is idle.
	r.Acquire("a")
	r.Acquire("a")
	r.Acquire("b")

	got := ids(r.Match(models.RoleProducer, []string{"go"}))
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Match order = %v, want %v", got, want)
		}
	}

	// Equal loads fall back to registration order.
	r.Release("a")
	r.Release("a")
	r.Release("b")
	got = ids(r.Match(models.RoleProducer, []string{"go"}))
	want = []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Match order after release = %v, want %v", got, want)
		}
	}
}

func TestRoster_MatchExcludes(t *testing.T) {
	r := NewRoster()

	if err := r.Register(validatorStub("v1")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(validatorStub("v2")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := ids(r.Match(models.RoleValidator, nil, "v1"))
	if len(got) != 1 || got[0] != "v2" {
		t.Errorf("Match excluding v1 = %v, want [v2]", got)
	}
}

func TestRoster_ReleaseFloorsAtZero(t *testing.T) {
	r := NewRoster()

	if err := r.Register(producerStub("p1")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r.Release("p1")
	if got := r.Load("p1"); got != 0 {
		t.Errorf("Load after spurious Release = %d, want 0", got)
	}

	r.Acquire("p1")
	if got := r.Load("p1"); got != 1 {
		t.Errorf("Load = %d, want 1", got)
	}
}

func ids(proxies []Proxy) []string {
	out := make([]string, len(proxies))
	for i, p := range proxies {
		out[i] = p.ID()
	}
	return out
}
