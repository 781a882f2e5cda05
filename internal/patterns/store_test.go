package patterns

import (
	"sync"
	"testing"
)

func TestCompileGroupIgnoresInvalidRegex(t *testing.T) {
	group := compileGroup([]Definition{
		{Name: "ok", Expr: `^df(\s|$)`},
		{Name: "broken", Expr: "["},
	}, nil)
	if len(group) != 1 {
		t.Fatalf("expected 1 compiled pattern, got %d", len(group))
	}
	if group[0].Name != "ok" {
		t.Fatalf("expected surviving pattern ok, got %s", group[0].Name)
	}
}

func TestCompileGroupCaseInsensitive(t *testing.T) {
	group := compileGroup([]Definition{{Name: "rm", Expr: `^remove-item\b`}}, nil)
	if _, ok := group.FirstMatch("Remove-Item ./x"); !ok {
		t.Fatal("expected case-insensitive match")
	}
}

func TestFirstMatchOrder(t *testing.T) {
	group := compileGroup([]Definition{
		{Name: "first", Expr: `^get`},
		{Name: "second", Expr: `^get-date`},
	}, nil)

	name, ok := group.FirstMatch("get-date")
	if !ok || name != "first" {
		t.Fatalf("expected first pattern to win, got %q ok=%v", name, ok)
	}
}

func TestStoreSnapshotGroups(t *testing.T) {
	store := NewStore()
	snap := store.CurrentSnapshot()

	if len(snap.CriticalAliases) == 0 || len(snap.Blocked) == 0 ||
		len(snap.Dangerous) == 0 || len(snap.Risky) == 0 || len(snap.Safe) == 0 {
		t.Fatal("expected built-in groups to be populated")
	}
	if len(snap.LearnedSafe) != 0 {
		t.Fatalf("expected empty learned-safe group, got %d", len(snap.LearnedSafe))
	}
}

func TestStoreMutationInstallsNewSnapshot(t *testing.T) {
	store := NewStore()
	before := store.CurrentSnapshot()

	store.AddSafe(Definition{Name: "safe.custom", Expr: `^my-tool\b`})
	after := store.CurrentSnapshot()

	if before == after {
		t.Fatal("expected mutation to install a new snapshot")
	}
	if _, ok := before.Safe.FirstMatch("my-tool run"); ok {
		t.Fatal("expected old snapshot to be unchanged")
	}
	name, ok := after.Safe.FirstMatch("my-tool run")
	if !ok || name != "safe.custom" {
		t.Fatalf("expected new snapshot to match, got %q ok=%v", name, ok)
	}
}

func TestStoreAddLearnedSafe(t *testing.T) {
	store := NewStore()
	store.AddLearnedSafe(LearnedSafeDefinition("my-tool status OBF_PATH"))

	snap := store.CurrentSnapshot()
	if _, ok := snap.LearnedSafe.FirstMatch("my-tool status OBF_PATH"); !ok {
		t.Fatal("expected learned pattern to match its normalized form")
	}
	if _, ok := snap.LearnedSafe.FirstMatch("my-tool  status   OBF_PATH"); !ok {
		t.Fatal("expected learned pattern to tolerate extra whitespace")
	}
	if _, ok := snap.LearnedSafe.FirstMatch("my-tool status OBF_PATH extra"); ok {
		t.Fatal("expected anchored pattern to reject trailing tokens")
	}
}

func TestStoreSetLearnedSafeReplaces(t *testing.T) {
	store := NewStore()
	store.AddLearnedSafe(LearnedSafeDefinition("old-tool run"))
	store.SetLearnedSafe([]Definition{LearnedSafeDefinition("new-tool run")})

	snap := store.CurrentSnapshot()
	if _, ok := snap.LearnedSafe.FirstMatch("old-tool run"); ok {
		t.Fatal("expected old learned pattern to be replaced")
	}
	if _, ok := snap.LearnedSafe.FirstMatch("new-tool run"); !ok {
		t.Fatal("expected new learned pattern to match")
	}
}

func TestStoreSuppressWildcard(t *testing.T) {
	store := NewStore()
	store.Suppress("dangerous.*")

	snap := store.CurrentSnapshot()
	if len(snap.Dangerous) != 0 {
		t.Fatalf("expected all dangerous built-ins suppressed, got %d", len(snap.Dangerous))
	}
	if len(snap.Blocked) == 0 {
		t.Fatal("expected other groups untouched")
	}
}

func TestStoreSuppressSingleName(t *testing.T) {
	store := NewStore()
	before := len(store.CurrentSnapshot().Risky)

	store.Suppress("risky.web-request")
	after := store.CurrentSnapshot()

	if len(after.Risky) != before-1 {
		t.Fatalf("expected exactly one risky pattern suppressed, got %d -> %d", before, len(after.Risky))
	}
	if _, ok := after.Risky.FirstMatch("invoke-webrequest https://example.com"); ok {
		t.Fatal("expected suppressed pattern not to match")
	}
}

func TestStoreConcurrentReadersDuringMutation(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := store.CurrentSnapshot()
				snap.Blocked.FirstMatch("rm -rf /")
			}
		}()
	}
	for i := 0; i < 50; i++ {
		store.AddLearnedSafe(LearnedSafeDefinition("tool run"))
	}
	wg.Wait()
}

func TestLearnedSafeDefinitionEscapesMetaChars(t *testing.T) {
	def := LearnedSafeDefinition("get-item (weird)")
	group := compileGroup([]Definition{def}, nil)
	if len(group) != 1 {
		t.Fatalf("expected definition to compile, got %d patterns", len(group))
	}
	if _, ok := group.FirstMatch("get-item (weird)"); !ok {
		t.Fatal("expected literal match of escaped metacharacters")
	}
	if _, ok := group.FirstMatch("get-item xweirdx"); ok {
		t.Fatal("expected parentheses to be literal, not grouping")
	}
}
