package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func TestOpen_FreshDatabaseAtCurrentVersion(t *testing.T) {
	db := openTestDB(t)

	var v int
	if err := db.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if v != SchemaVersion || db.Version() != SchemaVersion {
		t.Fatalf("user_version = %d, Version() = %d, want %d", v, db.Version(), SchemaVersion)
	}
	for _, table := range tables {
		if got := countRows(t, db, table); got != 0 {
			t.Fatalf("%s row count = %d, want 0", table, got)
		}
	}
}

func TestProcessRoundTrip(t *testing.T) {
	db := openTestDB(t)

	want := collector.ProcessRecord{Timestamp: 1000, PID: "123", UID: "u0", Name: "com.example"}
	if err := db.InsertProcess(want); err != nil {
		t.Fatalf("InsertProcess() error = %v", err)
	}

	got, err := db.ProcessesInRange(500, 1500)
	if err != nil {
		t.Fatalf("ProcessesInRange() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ProcessesInRange(500, 1500) len = %d, want 1", len(got))
	}
	if got[0].ID <= 0 {
		t.Fatalf("ID = %d, want > 0", got[0].ID)
	}
	got[0].ID = 0
	if got[0] != want {
		t.Fatalf("ProcessesInRange() = %#v, want %#v", got[0], want)
	}

	empty, err := db.ProcessesInRange(2000, 3000)
	if err != nil {
		t.Fatalf("ProcessesInRange() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("ProcessesInRange(2000, 3000) = %#v, want empty non-nil slice", empty)
	}
}

func TestProcessesInRange_InclusiveBounds(t *testing.T) {
	db := openTestDB(t)

	for _, ts := range []int64{9, 10, 15, 20, 21} {
		if err := db.InsertProcess(collector.ProcessRecord{Timestamp: ts, PID: "1", UID: "0", Name: "init"}); err != nil {
			t.Fatalf("InsertProcess(ts=%d) error = %v", ts, err)
		}
	}

	got, err := db.ProcessesInRange(10, 20)
	if err != nil {
		t.Fatalf("ProcessesInRange() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ProcessesInRange(10, 20) len = %d, want 3", len(got))
	}
	if got[0].Timestamp != 10 || got[2].Timestamp != 20 {
		t.Fatalf("ProcessesInRange(10, 20) = %#v, want timestamps 10..20", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("rows not in id order: %#v", got)
		}
	}
}

func TestEventRoundTrip(t *testing.T) {
	db := openTestDB(t)

	events := []collector.EventRecord{
		{Timestamp: 100, Type: collector.EventScreenOff, Extra: "org.gnome.ScreenSaver"},
		{Timestamp: 160, Type: collector.EventScreenOn, Extra: ""},
		{Timestamp: 400, Type: collector.EventSleep, Extra: "logind"},
	}
	for _, e := range events {
		if err := db.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent(%v) error = %v", e, err)
		}
	}

	got, err := db.EventsInRange(100, 200)
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("EventsInRange(100, 200) len = %d, want 2", len(got))
	}
	for i := range got {
		got[i].ID = 0
		if got[i] != events[i] {
			t.Fatalf("EventsInRange()[%d] = %#v, want %#v", i, got[i], events[i])
		}
	}
}

func TestEventTypeStoredAsOrdinal(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertEvent(collector.EventRecord{Timestamp: 1, Type: collector.EventScreenOff}); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	var typ int
	if err := db.db.QueryRow("SELECT type FROM event").Scan(&typ); err != nil {
		t.Fatalf("select type: %v", err)
	}
	if typ != int(collector.EventScreenOff) {
		t.Fatalf("stored type = %d, want %d", typ, int(collector.EventScreenOff))
	}
}

func TestResetAllData(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertProcess(collector.ProcessRecord{Timestamp: 10, PID: "1", UID: "0", Name: "a"}); err != nil {
		t.Fatalf("InsertProcess() error = %v", err)
	}
	if err := db.InsertEvent(collector.EventRecord{Timestamp: 10, Type: collector.EventScreenOn}); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}

	if err := db.ResetAllData(); err != nil {
		t.Fatalf("ResetAllData() error = %v", err)
	}
	// Resetting an empty database is still a success.
	if err := db.ResetAllData(); err != nil {
		t.Fatalf("second ResetAllData() error = %v", err)
	}

	procs, err := db.ProcessesInRange(0, 1<<40)
	if err != nil {
		t.Fatalf("ProcessesInRange() error = %v", err)
	}
	if len(procs) != 0 {
		t.Fatalf("ProcessesInRange() after reset len = %d, want 0", len(procs))
	}
	events, err := db.EventsInRange(0, 1<<40)
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("EventsInRange() after reset len = %d, want 0", len(events))
	}
}

func TestConcurrentWritersSerialize(t *testing.T) {
	db := openTestDB(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if w%2 == 0 {
					if err := db.InsertProcess(collector.ProcessRecord{Timestamp: int64(i), PID: "1", UID: "0", Name: "p"}); err != nil {
						t.Errorf("InsertProcess() error = %v", err)
					}
				} else {
					if err := db.InsertEvent(collector.EventRecord{Timestamp: int64(i), Type: collector.EventScreenOn}); err != nil {
						t.Errorf("InsertEvent() error = %v", err)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if got := countRows(t, db, processTable); got != 50 {
		t.Fatalf("process rows = %d, want 50", got)
	}
	if got := countRows(t, db, eventTable); got != 50 {
		t.Fatalf("event rows = %d, want 50", got)
	}
}
