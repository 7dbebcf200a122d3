package browser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Point is a button position recorded at the reference viewport.
type Point struct {
	X int
	Y int
}

// Zero reports whether the point was never calibrated.
func (p Point) Zero() bool { return p.X == 0 && p.Y == 0 }

// UnmarshalYAML accepts the on-disk form, a two-element sequence [x, y].
func (p *Point) UnmarshalYAML(value *yaml.Node) error {
	var xy [2]int
	if err := value.Decode(&xy); err != nil {
		return fmt.Errorf("button coordinate must be [x, y]: %w", err)
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// MarshalYAML writes the two-element sequence form.
func (p Point) MarshalYAML() (any, error) {
	return [2]int{p.X, p.Y}, nil
}

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ButtonMap maps symbolic action names to points recorded at Reference.
// Loaded once per run and only ever read afterwards.
type ButtonMap struct {
	Reference Viewport         `yaml:"reference"`
	Buttons   map[string]Point `yaml:"buttons"`
}

// LoadButtonMap reads a calibration file written by SaveButtonMap.
func LoadButtonMap(path string) (*ButtonMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read button map: %w", err)
	}
	var m ButtonMap
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse button map: %w", err)
	}
	if m.Reference.Width <= 0 || m.Reference.Height <= 0 {
		return nil, fmt.Errorf("button map %s has no reference viewport", path)
	}
	if m.Buttons == nil {
		m.Buttons = map[string]Point{}
	}
	return &m, nil
}

// SaveButtonMap writes the calibration file.
func SaveButtonMap(path string, m *ButtonMap) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal button map: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write button map: %w", err)
	}
	return nil
}

// Scale rescales p linearly from the reference viewport to the runtime
// viewport: x' = x * runtime_w / reference_w, likewise for y.
func Scale(p Point, ref, run Viewport) Point {
	return Point{
		X: p.X * run.Width / ref.Width,
		Y: p.Y * run.Height / ref.Height,
	}
}
