package main

import (
	"bytes"
	"strings"
	"testing"

	"SpriteForge/internal/cache"
	"SpriteForge/internal/prompt"
)

func TestKeyCommandMatchesServiceKey(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"key", "  knight ", "--motions", "walk,idle", "--directions", "west,south,west", "--seed", "42"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := cache.Key("knight", prompt.DefaultStyle, cache.MotionsToken([]string{"walk", "idle"}, []string{"south", "west"}), 42)
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("unexpected key: got %s want %s", got, want)
	}
}

func TestKeyCommandRejectsBadDirection(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"key", "knight", "--directions", "up"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for invalid direction")
	}
}
