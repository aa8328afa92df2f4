package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/entity"
)

type fakeRemote struct {
	createErr error
	editErr   error
	deleteErr error

	version     int64
	createCalls int
	editCalls   int
	deleteCalls int
	lastEdited  entity.Avatar
	lastExpect  int64
}

func (f *fakeRemote) Create(ctx context.Context, e entity.Avatar) (int64, error) {
	f.createCalls++
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.version++
	return f.version, nil
}

func (f *fakeRemote) Edit(ctx context.Context, id string, e entity.Avatar, expectedVersion int64) (int64, error) {
	f.editCalls++
	f.lastEdited = e
	f.lastExpect = expectedVersion
	if f.editErr != nil {
		return 0, f.editErr
	}
	f.version++
	return f.version, nil
}

func (f *fakeRemote) Fetch(ctx context.Context, id string) (entity.Avatar, int64, error) {
	return entity.Avatar{}, 0, errors.New("not implemented")
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	f.deleteCalls++
	return f.deleteErr
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func newTestCache(t *testing.T, remote *fakeRemote, opts Options) *Cache[entity.Avatar] {
	t.Helper()
	c, err := New[entity.Avatar](openTestDB(t), "avatars", remote, opts)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestAddWritesLocalFirst(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(t, remote, Options{})

	rec, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Entity.ID != "prof-smith" {
		t.Fatalf("unexpected id %q", rec.Entity.ID)
	}
	if rec.Dirty {
		t.Fatalf("record should be clean after confirmed create")
	}
	if rec.RemoteVersion != 1 {
		t.Fatalf("remote version = %d, want 1", rec.RemoteVersion)
	}

	got, err := c.Get(context.Background(), "prof-smith")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Entity.Name != "Prof. Smith" {
		t.Fatalf("unexpected entity: %+v", got.Entity)
	}
}

func TestAddRejectsReservedName(t *testing.T) {
	c := newTestCache(t, &fakeRemote{}, Options{})
	if _, err := c.Add(context.Background(), entity.Avatar{Name: "New"}); !errors.Is(err, entity.ErrReservedID) {
		t.Fatalf("expected ErrReservedID, got %v", err)
	}
}

func TestAddKeepsLocalCopyOnRemoteFailure(t *testing.T) {
	remote := &fakeRemote{createErr: errors.New("backend down")}
	c := newTestCache(t, remote, Options{})

	rec, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"})
	if err != nil {
		t.Fatalf("add should not surface remote failure by default: %v", err)
	}
	if !rec.Dirty || rec.RemoteVersion != 0 {
		t.Fatalf("expected dirty local-only record, got %+v", rec)
	}

	got, err := c.Get(context.Background(), "prof-smith")
	if err != nil {
		t.Fatalf("get after failed create: %v", err)
	}
	if !got.Dirty {
		t.Fatalf("local copy should remain dirty")
	}
}

func TestAddStrictCreateSurfacesFailure(t *testing.T) {
	remote := &fakeRemote{createErr: errors.New("backend down")}
	c := newTestCache(t, remote, Options{StrictCreate: true})

	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err == nil {
		t.Fatalf("expected create error in strict mode")
	}
	// Local copy survives either way.
	if _, err := c.Get(context.Background(), "prof-smith"); err != nil {
		t.Fatalf("local copy missing after strict failure: %v", err)
	}
}

func TestUpdateLocalStampsAndDirties(t *testing.T) {
	c := newTestCache(t, &fakeRemote{}, Options{})
	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	before, _ := c.Get(context.Background(), "prof-smith")
	rec, err := c.UpdateLocal(context.Background(), "prof-smith", func(a entity.Avatar) entity.Avatar {
		a.Description = "market entry"
		return a
	})
	if err != nil {
		t.Fatalf("update local: %v", err)
	}
	if !rec.Dirty {
		t.Fatalf("record should be dirty after local edit")
	}
	if rec.LocalVersion <= before.LocalVersion {
		t.Fatalf("local version did not advance: %d -> %d", before.LocalVersion, rec.LocalVersion)
	}
	if rec.Entity.Description != "market entry" {
		t.Fatalf("merge lost: %+v", rec.Entity)
	}

	if _, err := c.UpdateLocal(context.Background(), "missing", func(a entity.Avatar) entity.Avatar { return a }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalVersionMonotonicWithinMillisecond(t *testing.T) {
	c := newTestCache(t, &fakeRemote{}, Options{})
	fixed := time.Now()
	c.now = func() time.Time { return fixed }

	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	var prev int64
	for i := 0; i < 3; i++ {
		rec, err := c.UpdateLocal(context.Background(), "prof-smith", func(a entity.Avatar) entity.Avatar { return a })
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if rec.LocalVersion <= prev {
			t.Fatalf("stamp not strictly increasing: %d then %d", prev, rec.LocalVersion)
		}
		prev = rec.LocalVersion
	}
}

func TestSaveCleanRecordIsNoOp(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(t, remote, Options{})
	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	editsBefore := remote.editCalls
	rec, err := c.Save(context.Background(), "prof-smith")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if remote.editCalls != editsBefore {
		t.Fatalf("save on clean record must not call the backend")
	}
	if rec.Dirty {
		t.Fatalf("record should stay clean")
	}
}

func TestSaveFlushesLastMerge(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(t, remote, Options{})
	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for _, desc := range []string{"one", "two", "three"} {
		d := desc
		if _, err := c.UpdateLocal(context.Background(), "prof-smith", func(a entity.Avatar) entity.Avatar {
			a.Description = d
			return a
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	rec, err := c.Save(context.Background(), "prof-smith")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if remote.lastEdited.Description != "three" {
		t.Fatalf("backend received %q, want last merge", remote.lastEdited.Description)
	}
	if remote.lastExpect != 1 {
		t.Fatalf("expectedVersion sent = %d, want last confirmed remote version 1", remote.lastExpect)
	}
	if rec.Dirty || rec.RemoteVersion != 2 {
		t.Fatalf("post-save record: %+v", rec)
	}
}

func TestSaveFailureLeavesDirtyRecord(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(t, remote, Options{})
	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := c.UpdateLocal(context.Background(), "prof-smith", func(a entity.Avatar) entity.Avatar {
		a.Description = "unsaved"
		return a
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	remote.editErr = errors.New("backend down")
	if _, err := c.Save(context.Background(), "prof-smith"); err == nil {
		t.Fatalf("expected save error")
	}

	rec, err := c.Get(context.Background(), "prof-smith")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.Dirty || rec.Entity.Description != "unsaved" {
		t.Fatalf("dirty record must be untouched on failure: %+v", rec)
	}
}

func TestDeleteIsRemoteFirst(t *testing.T) {
	remote := &fakeRemote{deleteErr: errors.New("backend down")}
	c := newTestCache(t, remote, Options{})
	if _, err := c.Add(context.Background(), entity.Avatar{Name: "Prof. Smith"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := c.Delete(context.Background(), "prof-smith"); err == nil {
		t.Fatalf("expected delete error")
	}
	if _, err := c.Get(context.Background(), "prof-smith"); err != nil {
		t.Fatalf("failed remote delete must leave local record: %v", err)
	}

	remote.deleteErr = nil
	if err := c.Delete(context.Background(), "prof-smith"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(context.Background(), "prof-smith"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListAll(t *testing.T) {
	c := newTestCache(t, &fakeRemote{}, Options{})
	for _, name := range []string{"Prof. Smith", "Dr. Jones"} {
		if _, err := c.Add(context.Background(), entity.Avatar{Name: name}); err != nil {
			t.Fatalf("add %q: %v", name, err)
		}
	}
	recs, err := c.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Entity.ID != "dr-jones" || recs[1].Entity.ID != "prof-smith" {
		t.Fatalf("unexpected order: %q, %q", recs[0].Entity.ID, recs[1].Entity.ID)
	}
}
