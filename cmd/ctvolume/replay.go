package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ctvolume/pkg/interaction"
)

// Script is a replay file: each frame is a batch of events applied before
// one render.
//
//	frames:
//	  - - {layer: Femur, param: opacity_scale, value: 0.2}
//	    - {layer: Tibia, param: opacity_scale, value: 0.9}
//	  - - {layer: Femur, param: max_hu, value: 1500}
type Script struct {
	Frames [][]interaction.Event `yaml:"frames"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading replay script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing replay script: %w", err)
	}
	if len(s.Frames) == 0 {
		return nil, fmt.Errorf("replay script %s has no frames", path)
	}
	return &s, nil
}
