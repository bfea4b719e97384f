// Package classify maps OneDrive file paths to document types and system
// tags based on the directory structure yachts use for their document trees.
package classify

import (
	"sort"
	"strings"
)

// Metadata is the classification extracted from a file path.
type Metadata struct {
	SystemPath  string   `json:"system_path"`
	Directories []string `json:"directories"`
	DocType     string   `json:"doc_type"`
	SystemTag   string   `json:"system_tag"`
	Filename    string   `json:"filename"`
}

// DefaultValue is used whenever no rule matches.
const DefaultValue = "general"

// docTypeByTopLevel maps the numbered top-level directory names to doc types.
var docTypeByTopLevel = map[string]string{
	"01_General":        "general",
	"02_Engineering":    "schematic",
	"03_Systems":        "schematic",
	"04_Manuals":        "manual",
	"05_Drawings":       "drawing",
	"06_Procedures":     "sop",
	"07_Safety":         "sop",
	"08_Maintenance":    "maintenance_log",
	"09_Logs":           "log",
	"10_Inspections":    "inspection",
	"11_Vendors":        "vendor_doc",
	"12_Warranties":     "warranty",
	"13_Certifications": "certification",
	"14_Photos":         "photo",
	"15_Videos":         "video",
}

// docTypeByAltName is the case-insensitive fallback for unnumbered trees.
// Keys are lowercase.
var docTypeByAltName = map[string]string{
	"engineering":    "schematic",
	"manuals":        "manual",
	"procedures":     "sop",
	"safety":         "sop",
	"maintenance":    "maintenance_log",
	"logs":           "log",
	"inspections":    "inspection",
	"inspection":     "inspection",
	"vendors":        "vendor_doc",
	"warranties":     "warranty",
	"warranty":       "warranty",
	"certifications": "certification",
	"certs":          "certification",
	"photos":         "photo",
	"videos":         "video",
	"drawings":       "drawing",
	"schematics":     "schematic",
}

// systemTagByKeyword maps directory name keywords to onboard system tags.
var systemTagByKeyword = map[string]string{
	"Electrical":     "electrical",
	"HVAC":           "hvac",
	"Plumbing":       "plumbing",
	"Engines":        "propulsion",
	"Generators":     "power",
	"Generator":      "power",
	"Navigation":     "navigation",
	"Communications": "communications",
	"Comms":          "communications",
	"Fire":           "safety",
	"Safety":         "safety",
	"Galley":         "galley",
	"Kitchen":        "galley",
	"Sanitation":     "sanitation",
	"Water":          "water",
	"Fuel":           "fuel",
	"Hydraulic":      "hydraulic",
	"Hydraulics":     "hydraulic",
	"Deck":           "deck",
	"Hull":           "hull",
	"Interior":       "interior",
	"AV":             "av",
	"Audio":          "av",
	"Video":          "av",
	"Entertainment":  "entertainment",
	"CCTV":           "security",
	"Security":       "security",
	"Stabilizers":    "stabilization",
	"Thrusters":      "propulsion",
	"Tender":         "tender",
	"Tenders":        "tender",
}

// Classifier classifies paths against a rule set. The zero-config
// constructor uses the built-in tables; rules files can extend them.
type Classifier struct {
	docTypes    map[string]string
	altDocTypes map[string]string
	systemTags  map[string]string
	// ordered keywords so substring scanning is deterministic
	tagKeywords []string
}

// New returns a Classifier with the built-in rule tables.
func New() *Classifier {
	c := &Classifier{
		docTypes:    copyTable(docTypeByTopLevel),
		altDocTypes: copyTable(docTypeByAltName),
		systemTags:  copyTable(systemTagByKeyword),
	}
	c.rebuildKeywords()
	return c
}

func copyTable(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (c *Classifier) rebuildKeywords() {
	c.tagKeywords = make([]string, 0, len(c.systemTags))
	for k := range c.systemTags {
		c.tagKeywords = append(c.tagKeywords, k)
	}
	sort.Strings(c.tagKeywords)
}

// Classify extracts metadata from a file path. It is deterministic and has
// no side effects. Leading and trailing separators are ignored.
func (c *Classifier) Classify(path string) Metadata {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Metadata{
			Directories: []string{},
			DocType:     DefaultValue,
			SystemTag:   DefaultValue,
		}
	}

	parts := strings.Split(trimmed, "/")
	filename := parts[len(parts)-1]
	dirs := parts[:len(parts)-1]

	if len(dirs) == 0 {
		// File at drive root
		return Metadata{
			Directories: []string{},
			DocType:     DefaultValue,
			SystemTag:   DefaultValue,
			Filename:    filename,
		}
	}

	return Metadata{
		SystemPath:  strings.Join(dirs, "/"),
		Directories: dirs,
		DocType:     c.docType(dirs[0]),
		SystemTag:   c.systemTag(dirs),
		Filename:    filename,
	}
}

// docType resolves the top-level directory: exact match first, then the
// case-insensitive fallback table.
func (c *Classifier) docType(topLevel string) string {
	if dt, ok := c.docTypes[topLevel]; ok {
		return dt
	}
	if dt, ok := c.altDocTypes[strings.ToLower(topLevel)]; ok {
		return dt
	}
	return DefaultValue
}

// systemTag scans directories in path order; the first segment matching a
// keyword (exact, or case-insensitive substring) wins.
func (c *Classifier) systemTag(dirs []string) string {
	for _, dir := range dirs {
		if tag, ok := c.systemTags[dir]; ok {
			return tag
		}
		lower := strings.ToLower(dir)
		for _, keyword := range c.tagKeywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				return c.systemTags[keyword]
			}
		}
	}
	return DefaultValue
}
