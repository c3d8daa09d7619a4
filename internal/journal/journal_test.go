package journal

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/healthguide/internal/chat"
)

func TestFileStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	fs := NewFileStore(filepath.Join(t.TempDir(), "shared.jsonl"))
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	fs.now = func() time.Time { return at }

	if recs, err := fs.Load(); err != nil || len(recs) != 0 {
		t.Fatalf("Load before Save = %v, %v", recs, err)
	}

	derm := chat.Specialist{Name: "Dermatologist", Expertise: "Skin.", Conditions: "Acne."}
	if err := fs.Save("chat-1", derm); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := fs.Save("chat-1", chat.Specialist{Name: "Allergist"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	recs, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	want := Record{ChatID: "chat-1", Specialist: "Dermatologist", Expertise: "Skin.", Conditions: "Acne."}
	got := recs[0]
	if !got.Timestamp.Equal(at) || got.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", got.Timestamp, at)
	}
	got.Timestamp = time.Time{}
	if got != want {
		t.Errorf("record 0 = %+v, want %+v", got, want)
	}
	if recs[1].Specialist != "Allergist" || recs[1].Expertise != "" {
		t.Errorf("record 1 = %+v", recs[1])
	}

	data, err := os.ReadFile(fs.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "\n") != 2 || strings.Contains(string(data), `"expertise":""`) {
		t.Errorf("file content:\n%s", data)
	}
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	t.Parallel()

	fs := NewFileStore(filepath.Join(t.TempDir(), "shared.jsonl"))
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			if err := fs.Save("c", chat.Specialist{Name: "Cardiologist"}); err != nil {
				t.Errorf("Save: %v", err)
			}
		})
	}
	wg.Wait()

	recs, err := fs.Load()
	if err != nil || len(recs) != 20 {
		t.Errorf("Load = %d records, %v", len(recs), err)
	}
}

func TestFileStore_CorruptLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.jsonl")
	if err := os.WriteFile(path, []byte("{\"specialist\":\"A\"}\nnot json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	recs, err := NewFileStore(path).Load()
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v, want a line 2 error", err)
	}
	if len(recs) != 1 {
		t.Errorf("records before the bad line = %d, want 1", len(recs))
	}
}

func TestFileStore_SaveFailsInMissingDir(t *testing.T) {
	t.Parallel()

	fs := NewFileStore(filepath.Join(t.TempDir(), "missing", "shared.jsonl"))
	if err := fs.Save("c", chat.Specialist{Name: "X"}); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
