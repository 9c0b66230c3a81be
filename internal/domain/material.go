package domain

import (
	"sort"
	"strings"
)

// Material is a named bundle of surface reflectance parameters. The render
// host receives only the name; the values document what the name means.
type Material struct {
	Name      string     `json:"name"`
	Roughness float64    `json:"roughness"`
	Metallic  float64    `json:"metallic"`
	BaseColor [4]float64 `json:"base_color"`
}

// DefaultMaterial is used when a request does not name one.
const DefaultMaterial = "golden"

var materials = map[string]Material{
	"flat":     {Name: "flat", Roughness: 1.0, Metallic: 0.0, BaseColor: [4]float64{0.8, 0.8, 0.8, 1}},
	"glossy":   {Name: "glossy", Roughness: 0.1, Metallic: 0.0, BaseColor: [4]float64{0.8, 0.8, 0.8, 1}},
	"matte":    {Name: "matte", Roughness: 0.8, Metallic: 0.0, BaseColor: [4]float64{0.8, 0.8, 0.8, 1}},
	"metallic": {Name: "metallic", Roughness: 0.3, Metallic: 1.0, BaseColor: [4]float64{0.8, 0.8, 0.8, 1}},
	"chrome":   {Name: "chrome", Roughness: 0.05, Metallic: 1.0, BaseColor: [4]float64{0.8, 0.8, 0.8, 1}},
	"golden":   {Name: "golden", Roughness: 0.25, Metallic: 1.0, BaseColor: [4]float64{1.0, 0.766, 0.336, 1}},
}

// aliases are names older HTTP clients sent.
var aliases = map[string]string{
	"gold":   "golden",
	"silver": "chrome",
}

// LookupMaterial finds a preset by case-insensitive name or alias.
func LookupMaterial(name string) (Material, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	m, ok := materials[key]
	return m, ok
}

// Materials returns every preset sorted by name.
func Materials() []Material {
	out := make([]Material, 0, len(materials))
	for _, m := range materials {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MaterialNames returns the preset names sorted.
func MaterialNames() []string {
	ms := Materials()
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name
	}
	return names
}
