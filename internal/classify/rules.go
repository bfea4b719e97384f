package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk override format. Entries extend the built-in
// tables; an entry whose key already exists replaces the built-in value.
type rulesFile struct {
	DocTypes    map[string]string `yaml:"doc_types"`
	AltDocTypes map[string]string `yaml:"alt_doc_types"`
	SystemTags  map[string]string `yaml:"system_tags"`
}

// LoadRules reads a YAML rules file and merges it over the built-in tables.
func LoadRules(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	c := New()
	for k, v := range rf.DocTypes {
		c.docTypes[k] = v
	}
	for k, v := range rf.AltDocTypes {
		c.altDocTypes[k] = v
	}
	for k, v := range rf.SystemTags {
		c.systemTags[k] = v
	}
	c.rebuildKeywords()

	return c, nil
}

// DigestPayload is the metadata document sent alongside file bytes to the
// digest service.
type DigestPayload struct {
	YachtID     string   `json:"yacht_id"`
	Filename    string   `json:"filename"`
	SystemPath  string   `json:"system_path"`
	Directories []string `json:"directories"`
	DocType     string   `json:"doc_type"`
	SystemTag   string   `json:"system_tag"`
	Source      string   `json:"source"`
}

// FormatForDigest builds the digest service payload for a file. The source
// marker distinguishes OneDrive documents from NAS uploads downstream.
func (c *Classifier) FormatForDigest(path, filename, yachtID string) DigestPayload {
	meta := c.Classify(path)
	return DigestPayload{
		YachtID:     yachtID,
		Filename:    filename,
		SystemPath:  meta.SystemPath,
		Directories: meta.Directories,
		DocType:     meta.DocType,
		SystemTag:   meta.SystemTag,
		Source:      "onedrive",
	}
}
