package colormap

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestViridisEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Viridis.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 68, G: 1, B: 84, A: 255}) {
		t.Fatalf("unexpected Viridis.At(0): %#v", c0)
	}

	c1 := Viridis.At(1.5).(color.RGBA)
	if c1 != (color.RGBA{R: 253, G: 231, B: 37, A: 255}) {
		t.Fatalf("unexpected Viridis.At(1.5): %#v", c1)
	}
}

func TestAtIndexWraps(t *testing.T) {
	t.Parallel()

	if Alphabet.Len() != 26 {
		t.Fatalf("Alphabet has %d colors", Alphabet.Len())
	}
	if Alphabet.AtIndex(26) != Alphabet.AtIndex(0) {
		t.Fatalf("AtIndex does not wrap")
	}
	if Alphabet.AtIndex(-1) != Alphabet.AtIndex(25) {
		t.Fatalf("negative AtIndex does not wrap")
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"viridis", "Turbo", "blues", "alphabet", "tab20"} {
		if _, ok := ByName(name); !ok {
			t.Fatalf("ByName(%q) not found", name)
		}
	}
	if _, ok := ByName("rainbow"); ok {
		t.Fatalf("ByName(rainbow) should not be found")
	}
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"#AA0DFE": "#aa0dfe",
		"ccc":     "#cccccc",
		"#102030": "#102030",
	}
	for in, want := range tests {
		c, err := ParseHex(in)
		if err != nil {
			t.Fatalf("ParseHex(%q): %v", in, err)
		}
		if got := Hex(c); got != want {
			t.Fatalf("Hex(ParseHex(%q)) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseHex("#12345"); err == nil {
		t.Fatalf("expected error for short hex")
	}
	if _, err := ParseHex("#zzzzzz"); err == nil {
		t.Fatalf("expected error for non-hex digits")
	}
}

func TestAssignCategories(t *testing.T) {
	t.Parallel()

	got := AssignCategories(
		[]string{"LUAD", "BRCA", "LUAD", "ACC_"},
		map[string]string{"BRCA": "#ff0000"},
		Turbo,
	)
	if len(got) != 3 {
		t.Fatalf("expected 3 categories, got %v", got)
	}
	if got["BRCA"] != "#ff0000" {
		t.Fatalf("override ignored: %v", got)
	}
	// Missing values take palette colors in sorted order.
	palette := Sample(Turbo, 3)
	if got["ACC_"] != Hex(palette[0]) || got["LUAD"] != Hex(palette[1]) {
		t.Fatalf("unexpected fallback colors: %v", got)
	}
}

func TestComponentColors(t *testing.T) {
	t.Parallel()

	got := ComponentColors([]string{"C1", "C2", "C3"}, map[string]string{"C2": "#000000"})
	if got[0] != Hex(Viridis.At(0)) || got[2] != Hex(Viridis.At(1)) {
		t.Fatalf("unexpected viridis sampling: %v", got)
	}
	if got[1] != "#000000" {
		t.Fatalf("override ignored: %v", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := LoadOverrides(filepath.Join(dir, "missing.json"))
	if err != nil || len(m) != 0 {
		t.Fatalf("missing file: got %v, %v", m, err)
	}

	p := filepath.Join(dir, "colors.json")
	if err := os.WriteFile(p, []byte(`{"BRCA":"#ff0000"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err = LoadOverrides(p)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if m["BRCA"] != "#ff0000" {
		t.Fatalf("unexpected overrides: %v", m)
	}

	if err := os.WriteFile(p, []byte(`{"BRCA":"red"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOverrides(p); err == nil {
		t.Fatalf("expected error for invalid color")
	}
}
