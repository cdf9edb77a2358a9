package collaborator

import "encoding/json"

// extractOutputField reads only the "output" field from a SEA config. It
// lives here (rather than importing internal/seaconfig) to avoid a cycle —
// seaconfig depends on this package for GenerateBlob, not the other way.
func extractOutputField(raw []byte) (string, error) {
	var cfg struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", err
	}
	return cfg.Output, nil
}
