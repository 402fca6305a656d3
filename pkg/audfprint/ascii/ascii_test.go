package ascii

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTransliterate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Beyoncé - Halo.mp3", "Beyonce - Halo.mp3"},
		{"Motörhead.wav", "Motorhead.wav"},
		{"plain.flac", "plain.flac"},
		{"東京.mp3", "__.mp3"},
	}
	for _, tt := range tests {
		if got := Transliterate(tt.in); got != tt.want {
			t.Errorf("Transliterate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStageLeavesASCIIPathsAlone(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "song.mp3")
	os.WriteFile(src, []byte("x"), 0o644)

	got, err := Stage(filepath.Join(dir, "ascii"), src)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if got != src {
		t.Errorf("Expected %s unchanged, got %s", src, got)
	}
	if _, err := os.Stat(filepath.Join(dir, "ascii")); !os.IsNotExist(err) {
		t.Error("Staging dir should not be created for ASCII paths")
	}
}

func TestStageCopiesNonASCII(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Café.mp3")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	staging := filepath.Join(dir, "ascii")

	first, err := Stage(staging, src)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if want := filepath.Join(staging, "Cafe.mp3"); first != want {
		t.Errorf("Stage = %s, want %s", first, want)
	}
	data, _ := os.ReadFile(first)
	if string(data) != "audio" {
		t.Errorf("Staged content mismatch: %q", data)
	}

	if err := os.WriteFile(src, []byte("re-encoded"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := Stage(staging, src)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if second != first {
		t.Errorf("Restaging should reuse %s, got %s", first, second)
	}
	if data, _ := os.ReadFile(second); string(data) != "re-encoded" {
		t.Errorf("Restaged content mismatch: %q", data)
	}
	if entries, _ := os.ReadDir(staging); len(entries) != 1 {
		t.Errorf("Expected a single staged copy, got %d", len(entries))
	}
}
