package bundler

import (
	"encoding/json"
	"strings"
)

// Manifest maps logical artifact names to their public paths
type Manifest map[string]string

// buildManifest records every artifact that asked for a manifest entry, plus one entry per source
// file that was folded into an identical asset. When two artifacts share a logical name the first
// one wins.
func (c *Compilation) buildManifest() error {
	opts := c.Config.Manifest
	result := Manifest{}
	for _, a := range c.artifacts {
		if !a.Manifest {
			continue
		}

		key := opts.BasePath + a.Name
		if _, exists := result[key]; exists {
			continue
		}
		result[key] = c.PublicPath(a)
	}
	for source, a := range c.aliases {
		key := opts.BasePath + strings.TrimPrefix(source, "./")
		if _, exists := result[key]; !exists {
			result[key] = c.PublicPath(a)
		}
	}

	data, err := result.Encode()
	if err != nil {
		return err
	}

	c.manifest = &Artifact{
		Name: opts.Filename,
		Path: opts.Filename,
		Hash: contentHash(data),
		Type: "application/json",
		Data: data,
	}
	return nil
}

// Encode renders the manifest with sorted keys, two-space indentation and a trailing newline
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(map[string]string(m), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Manifest returns the decoded manifest of the compilation
func (c *Compilation) Manifest() Manifest {
	result := Manifest{}
	if c.manifest != nil {
		_ = json.Unmarshal(c.manifest.Data, &result)
	}
	return result
}
