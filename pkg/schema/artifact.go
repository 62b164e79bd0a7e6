package schema

// ArtifactType identifies one of the supported artifact content types.
// The set is closed: anything outside this enumeration is rejected by
// validation with an unknown_type error.
type ArtifactType string

const (
	ArtifactTypeReact    ArtifactType = "application/vnd.pas.react"
	ArtifactTypeCode     ArtifactType = "application/vnd.pas.code"
	ArtifactTypeHTML     ArtifactType = "text/html"
	ArtifactTypeSVG      ArtifactType = "image/svg+xml"
	ArtifactTypeMarkdown ArtifactType = "text/markdown"
	ArtifactTypeMermaid  ArtifactType = "application/vnd.pas.mermaid"
)

// TypeRule carries the validation rule-set for one artifact type.
type TypeRule struct {
	// Extensions lists the file extensions a file of this type may use.
	// Empty means any extension is accepted.
	Extensions []string
	// MaxContentBytes caps the aggregate content size across all files.
	MaxContentBytes int
	// AllowedDependencies is the dependency name allow-list. Empty means
	// no external dependencies are permitted for this type.
	AllowedDependencies []string
	// RequiresEscape marks types whose file content must be wrapped in a
	// literal-escape section when it contains markup-sensitive characters.
	RequiresEscape bool
	// Policy is an optional CEL guard evaluated against the artifact
	// document; it must yield true for the artifact to pass strict
	// validation.
	Policy string
}

// TypeRules is the validation table keyed by artifact type tag.
var TypeRules = map[ArtifactType]TypeRule{
	ArtifactTypeReact: {
		Extensions:      []string{".jsx", ".tsx", ".js", ".ts"},
		MaxContentBytes: 512 * 1024,
		AllowedDependencies: []string{
			"react", "react-dom", "recharts", "lucide-react", "d3", "three",
			"lodash", "papaparse", "mathjs", "tone",
		},
		RequiresEscape: true,
	},
	ArtifactTypeCode: {
		MaxContentBytes: 512 * 1024,
		RequiresEscape:  true,
	},
	ArtifactTypeHTML: {
		Extensions:      []string{".html", ".htm"},
		MaxContentBytes: 1024 * 1024,
		RequiresEscape:  true,
	},
	ArtifactTypeSVG: {
		Extensions:      []string{".svg"},
		MaxContentBytes: 256 * 1024,
		RequiresEscape:  true,
	},
	ArtifactTypeMarkdown: {
		Extensions:      []string{".md", ".markdown"},
		MaxContentBytes: 256 * 1024,
	},
	ArtifactTypeMermaid: {
		Extensions:      []string{".mmd", ".mermaid"},
		MaxContentBytes: 64 * 1024,
	},
}

// IsSupportedType reports whether t is in the closed supported set.
func IsSupportedType(t ArtifactType) bool {
	_, ok := TypeRules[t]
	return ok
}

// ArtifactFile is one named file belonging to an artifact.
// WasEscaped records whether the content arrived wrapped in a
// literal-escape section; strict validation requires the wrapper for
// markup-sensitive content.
type ArtifactFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	WasEscaped bool   `json:"was_escaped,omitempty"`
}

// ArtifactDependency is one declared external module dependency.
type ArtifactDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ParsedArtifact is a structured artifact record extracted from raw
// assistant-response text. RawBlock retains the original source slice for
// diagnostics; IsValid is derived by structural validation.
type ParsedArtifact struct {
	Identifier   string               `json:"identifier"`
	Type         ArtifactType         `json:"type"`
	Title        string               `json:"title"`
	Description  string               `json:"description,omitempty"`
	Dependencies []ArtifactDependency `json:"dependencies,omitempty"`
	Files        []ArtifactFile       `json:"files"`
	RawBlock     string               `json:"raw_block,omitempty"`
	IsValid      bool                 `json:"is_valid"`
}

// ContentBytes returns the aggregate content size across all files.
func (a *ParsedArtifact) ContentBytes() int {
	total := 0
	for _, f := range a.Files {
		total += len(f.Content)
	}
	return total
}
