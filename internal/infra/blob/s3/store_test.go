package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"miqa/internal/blob/core"
)

func TestMockStoreOperations(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()

	if store.Driver() != core.DriverS3 {
		t.Fatalf("driver = %s", store.Driver())
	}

	info, err := store.Put(ctx, "imports/data.csv", strings.NewReader("a,b,c"), core.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "imports/data.csv" {
		t.Fatalf("info = %+v", info)
	}
	if _, err := store.Put(ctx, "imports/data.csv", strings.NewReader("again"), core.PutOptions{}); err == nil {
		t.Fatal("duplicate put should fail")
	}

	got, rc, err := store.Get(ctx, "imports/data.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "a,b,c" {
		t.Fatalf("get = %q", data)
	}
	if got.ContentType != "text/csv" {
		t.Fatalf("content type = %q", got.ContentType)
	}

	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatal("head on missing key should fail")
	}

	if _, err := store.Put(ctx, "imports/other.csv", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	infos, err := store.List(ctx, "imports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "imports/data.csv" {
		t.Fatalf("list = %+v", infos)
	}

	if _, err := store.Delete(ctx, "imports/data.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Get(ctx, "imports/data.csv"); err == nil {
		t.Fatal("get after delete should fail")
	}
}

func TestMockFetch(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Put(ctx, "scans/0.nii.gz", strings.NewReader("volume-bytes"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := store.Fetch(ctx, "mock-bucket", "scans/0.nii.gz")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "volume-bytes" {
		t.Fatalf("fetch = %q", data)
	}
	if _, err := store.Fetch(ctx, "mock-bucket", "missing"); err == nil {
		t.Fatal("fetch on missing key should fail")
	}
}
