// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetglass/fleetglass/lib/clock"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(testStart)
	store, err := Open(Config{
		Path:  filepath.Join(t.TempDir(), "remotes.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store, fake
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	remote := Remote{
		URL:          "http://build-host:4096",
		Name:         "build box",
		ProxyAddress: "127.0.0.1:9001",
	}
	if err := store.Add(ctx, remote); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := store.Get(ctx, "http://build-host:4096")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "build box" {
		t.Errorf("Name = %q, want 'build box'", got.Name)
	}
	if got.ProxyAddress != "127.0.0.1:9001" {
		t.Errorf("ProxyAddress = %q, want 127.0.0.1:9001", got.ProxyAddress)
	}
	if got.AddedAt != testStart.UnixMilli() {
		t.Errorf("AddedAt = %d, want %d", got.AddedAt, testStart.UnixMilli())
	}
}

func TestAddDuplicate(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, Remote{URL: "http://build-host:4096"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := store.Add(ctx, Remote{URL: "http://build-host:4096", Name: "again"})
	if !errors.Is(err, ErrExists) {
		t.Errorf("err = %v, want ErrExists", err)
	}
}

func TestURLNormalization(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	// Trailing slash is stripped on add, so lookups with or without
	// it hit the same record.
	if err := store.Add(ctx, Remote{URL: "http://build-host:4096/"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := store.Get(ctx, "http://build-host:4096")
	if err != nil {
		t.Fatalf("Get without slash: %v", err)
	}
	if got.URL != "http://build-host:4096" {
		t.Errorf("URL = %q, want slash stripped", got.URL)
	}

	err = store.Add(ctx, Remote{URL: "http://build-host:4096"})
	if !errors.Is(err, ErrExists) {
		t.Errorf("re-add without slash: err = %v, want ErrExists", err)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		remote Remote
	}{
		{name: "empty URL", remote: Remote{}},
		{name: "no scheme", remote: Remote{URL: "build-host:4096"}},
		{name: "ftp scheme", remote: Remote{URL: "ftp://build-host:4096"}},
		{name: "no host", remote: Remote{URL: "http://"}},
		{name: "proxy without port", remote: Remote{URL: "http://build-host:4096", ProxyAddress: "127.0.0.1"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := store.Add(ctx, test.remote); err == nil {
				t.Errorf("Add(%+v) succeeded, want error", test.remote)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, Remote{URL: "http://build-host:4096"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Remove(ctx, "http://build-host:4096"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Get(ctx, "http://build-host:4096"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after remove: err = %v, want ErrNotFound", err)
	}
}

func TestRemoveNotFound(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)

	err := store.Remove(context.Background(), "http://nowhere:4096")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrder(t *testing.T) {
	t.Parallel()
	store, fake := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, Remote{URL: "http://first:4096"}); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	fake.Advance(time.Minute)
	if err := store.Add(ctx, Remote{URL: "http://second:4096"}); err != nil {
		t.Fatalf("Add second: %v", err)
	}
	fake.Advance(time.Minute)
	if err := store.Add(ctx, Remote{URL: "http://third:4096"}); err != nil {
		t.Fatalf("Add third: %v", err)
	}

	remotes, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"http://first:4096", "http://second:4096", "http://third:4096"}
	if len(remotes) != len(want) {
		t.Fatalf("len(remotes) = %d, want %d", len(remotes), len(want))
	}
	for i, remote := range remotes {
		if remote.URL != want[i] {
			t.Errorf("remotes[%d].URL = %q, want %q", i, remote.URL, want[i])
		}
	}
}

func TestListEmpty(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)

	remotes, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remotes) != 0 {
		t.Errorf("len(remotes) = %d, want 0", len(remotes))
	}
}

func TestReopenPersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "remotes.db")
	ctx := context.Background()

	store, err := Open(Config{Path: path, Clock: clock.Fake(testStart)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add(ctx, Remote{URL: "http://build-host:4096", Name: "build box"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Config{Path: path, Clock: clock.Fake(testStart)})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	remotes, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List after reopen: %v", err)
	}
	if len(remotes) != 1 || remotes[0].Name != "build box" {
		t.Errorf("remotes = %+v, want the registered remote", remotes)
	}
}
