package nmf

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	// UnknownGroup is assigned to codes that no grouping lists.
	UnknownGroup = "Unknown"
	// UnknownGroupColor is the color of UnknownGroup.
	UnknownGroupColor = "#CCCCCC"
)

// Group is one entry of a grouping file.
type Group struct {
	Name        string   `json:"group_name"`
	Color       string   `json:"color"`
	CancerCodes []string `json:"cancer_codes"`
}

// Grouping maps cancer type codes to higher-level groups such as organ
// systems or embryonic layers.
type Grouping struct {
	Groups []Group `json:"organ_system_groupings"`

	byCode map[string]int
}

// LoadGroupings reads a grouping JSON file of the form
// {"organ_system_groupings": [{"group_name", "color", "cancer_codes"}]}.
func LoadGroupings(path string) (*Grouping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Grouping
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse groupings %s: %w", path, err)
	}
	g.index()
	return &g, nil
}

func (g *Grouping) index() {
	g.byCode = make(map[string]int)
	for i, grp := range g.Groups {
		for _, code := range grp.CancerCodes {
			g.byCode[CancerTypeCode(code)] = i
		}
	}
}

// Lookup returns the group of one cancer type code.
func (g *Grouping) Lookup(code string) (name, color string) {
	if g.byCode == nil {
		g.index()
	}
	i, ok := g.byCode[CancerTypeCode(code)]
	if !ok {
		return UnknownGroup, UnknownGroupColor
	}
	return g.Groups[i].Name, g.Groups[i].Color
}

// Annotate maps every code to its group name.
func (g *Grouping) Annotate(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i], _ = g.Lookup(c)
	}
	return out
}

// Colors returns the configured color of every group, plus UnknownGroup.
func (g *Grouping) Colors() map[string]string {
	out := map[string]string{UnknownGroup: UnknownGroupColor}
	for _, grp := range g.Groups {
		if grp.Color != "" {
			out[grp.Name] = grp.Color
		}
	}
	return out
}
