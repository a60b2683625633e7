package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewVocabReservesSpecials(t *testing.T) {
	v := NewVocab([]string{"the", "cat", "sat"})

	if v.Size() != 7 {
		t.Fatalf("expected 7 ids, got %d", v.Size())
	}
	for i, w := range []string{PadToken, UnknownToken, StartToken, StopToken} {
		if v.WordToID(w) != i {
			t.Errorf("special %q at id %d, want %d", w, v.WordToID(w), i)
		}
	}
	if v.WordToID("cat") != 5 {
		t.Errorf("expected cat at id 5, got %d", v.WordToID("cat"))
	}
	if v.IDToWord(5) != "cat" {
		t.Errorf("round trip failed: id 5 is %q", v.IDToWord(5))
	}
}

func TestNewVocabSkipsDuplicates(t *testing.T) {
	v := NewVocab([]string{"the", UnknownToken, "the", "dog"})
	if v.Size() != 6 {
		t.Errorf("duplicates not skipped: size %d", v.Size())
	}
}

func TestWordToIDUnknownFallback(t *testing.T) {
	v := NewVocab([]string{"the"})
	if got, want := v.WordToID("zeppelin"), v.WordToID(UnknownToken); got != want {
		t.Errorf("OOV word mapped to %d, want unknown id %d", got, want)
	}
}

func TestIDToWordOutOfRange(t *testing.T) {
	v := NewVocab([]string{"the"})
	if v.IDToWord(-1) != UnknownToken || v.IDToWord(v.Size()) != UnknownToken {
		t.Error("out-of-range ids should render as the unknown token")
	}
}

func TestLoadVocabFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte("the\ncat\n\nsat\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := LoadVocabFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Size() != 7 {
		t.Errorf("expected 7 ids (blank line skipped), got %d", v.Size())
	}
	if v.WordToID("sat") != 6 {
		t.Errorf("file order not preserved: sat at %d", v.WordToID("sat"))
	}

	if _, err := LoadVocabFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoadVocabJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(path, []byte(`["the","cat"]`), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := LoadVocabJSON(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.WordToID("cat") != 5 {
		t.Errorf("expected cat at id 5, got %d", v.WordToID("cat"))
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadVocabJSON(bad); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestDecodeIDs(t *testing.T) {
	v := NewVocab([]string{"the", "cat"}) // size 6; OOV ids start at 6

	got := DecodeIDs(v, []int{2, 4, 6, 5, 7, 3}, []string{"zeppelin"})
	want := []string{"the", "zeppelin", "cat", UnknownToken}
	if len(got) != len(want) {
		t.Fatalf("DecodeIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DecodeIDs = %v, want %v", got, want)
		}
	}
}
