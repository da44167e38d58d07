package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/java.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/java.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Object("path/java.json")
	if !ok || string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.Puts() != 1 {
		t.Fatalf("expected 1 put, got %d", store.Puts())
	}
}

func TestBlobStoreGetObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.GetObject(context.Background(), "missing"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if _, err := store.PutObject(context.Background(), "k", "", bytes.NewReader([]byte("v"))); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	rc, err := store.GetObject(context.Background(), "k")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "v" {
		t.Fatalf("unexpected content %q", got)
	}
}
