package colormap

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Hex formats c as #rrggbb.
func Hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// ParseHex parses #rgb, #rrggbb or #rrggbbaa (the leading # is optional).
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func mustParseAll(hex ...string) []color.RGBA {
	out := make([]color.RGBA, len(hex))
	for i, h := range hex {
		c, err := ParseHex(h)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

// Sample returns n colors evenly spaced over cm.
func Sample(cm Colormap, n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		if n == 1 {
			out[i] = cm.At(0)
			continue
		}
		out[i] = cm.At(float64(i) / float64(n-1))
	}
	return out
}

// AssignCategories gives every distinct value a hex color. Overrides win;
// the remaining values, sorted, take colors sampled evenly from fallback.
func AssignCategories(values []string, overrides map[string]string, fallback Colormap) map[string]string {
	seen := make(map[string]bool)
	var unique []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	sort.Strings(unique)

	out := make(map[string]string, len(unique))
	var missing []string
	for _, v := range unique {
		if c, ok := overrides[v]; ok {
			out[v] = c
		} else {
			missing = append(missing, v)
		}
	}
	if len(missing) == 0 {
		return out
	}
	palette := Sample(fallback, len(unique))
	for i, v := range missing {
		out[v] = Hex(palette[i%len(palette)])
	}
	return out
}

// ComponentColors returns one hex color per component name, sampled from
// Viridis unless overridden by name.
func ComponentColors(names []string, overrides map[string]string) []string {
	palette := Sample(Viridis, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		if c, ok := overrides[name]; ok {
			out[i] = c
			continue
		}
		out[i] = Hex(palette[i])
	}
	return out
}

// LoadOverrides reads a JSON object of name to hex color. An empty path or
// a missing file yields an empty map.
func LoadOverrides(path string) (map[string]string, error) {
	out := make(map[string]string)
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse color overrides %s: %w", path, err)
	}
	for name, c := range out {
		if _, err := ParseHex(c); err != nil {
			return nil, fmt.Errorf("color override %q: %w", name, err)
		}
	}
	return out, nil
}
