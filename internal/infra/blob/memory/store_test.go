package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"miqa/internal/blob/core"
)

func TestBasicOperations(t *testing.T) {
	store := New()
	ctx := context.Background()

	if store.Driver() != core.DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}

	info, err := store.Put(ctx, "a/b", strings.NewReader("payload"), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ContentType != "text/plain" {
		t.Fatalf("info = %+v", info)
	}
	if _, err := store.Put(ctx, "a/b", strings.NewReader("again"), core.PutOptions{}); err == nil {
		t.Fatal("duplicate put should fail")
	}

	_, rc, err := store.Get(ctx, "a/b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "payload" {
		t.Fatalf("get = %q", data)
	}

	if _, err := store.Put(ctx, "a/c", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "z", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	infos, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/b" || infos[1].Key != "a/c" {
		t.Fatalf("list = %+v", infos)
	}

	existed, err := store.Delete(ctx, "a/b")
	if err != nil || !existed {
		t.Fatalf("delete = %v, %v", existed, err)
	}
	if _, err := store.Head(ctx, "a/b"); err == nil {
		t.Fatal("head after delete should fail")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("abc"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	data[0] = 'X'

	_, rc, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	again, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(again) != "abc" {
		t.Fatalf("stored data mutated: %q", again)
	}
}
