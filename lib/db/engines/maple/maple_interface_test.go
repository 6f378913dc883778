package maple

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/shmrt/lib/db"
	dbtesting "github.com/ValentinKolb/shmrt/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func Benchmark(t *testing.B) {
	dbtesting.RunKVDBBenchmarks(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func TestPanicInUpdateRollsBack(t *testing.T) {
	database := NewMapleDB(nil)
	defer database.Close()

	func() {
		defer func() { _ = recover() }()
		_ = database.Update(1, func(w db.Writer) error {
			w.Put(db.CFDefault, []byte("k"), []byte("v"))
			panic("boom")
		})
	}()

	if database.Has(db.CFDefault, []byte("k")) {
		t.Errorf("Expected panic inside Update to roll back its writes")
	}

	// the lock must have been released
	if err := database.Update(2, func(w db.Writer) error { return nil }); err != nil {
		t.Errorf("Unexpected error after recovered panic: %v", err)
	}
}

func TestClosedRejectsWrites(t *testing.T) {
	database := NewMapleDB(nil)
	database.Close()

	err := database.Update(1, func(w db.Writer) error { return nil })
	if err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magicNum)
	buf.WriteByte(mapleVersion + 1)

	err := NewMapleDB(nil).Load(&buf)
	if err == nil {
		t.Errorf("Expected error for unsupported version")
	}
}
