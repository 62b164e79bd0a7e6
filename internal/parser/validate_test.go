package parser

import (
	"strings"
	"testing"

	"github.com/rendis/artifactflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReactArtifact() *schema.ParsedArtifact {
	return &schema.ParsedArtifact{
		Identifier: "widget",
		Type:       schema.ArtifactTypeReact,
		Title:      "Widget",
		Dependencies: []schema.ArtifactDependency{
			{Name: "react", Version: "^18.0.0"},
		},
		Files: []schema.ArtifactFile{
			{Path: "App.jsx", Content: "export default () => <p>hi</p>;", WasEscaped: true},
		},
	}
}

func issueCodes(issues []ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	return codes
}

// --- structural validation ---

func TestValidateArtifact_Valid(t *testing.T) {
	result := ValidateArtifact(validReactArtifact())
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateArtifact_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.ParsedArtifact)
		want   string
	}{
		{"empty identifier", func(a *schema.ParsedArtifact) { a.Identifier = "" }, "identifier is empty"},
		{"empty type", func(a *schema.ParsedArtifact) { a.Type = "" }, "type is empty"},
		{"empty title", func(a *schema.ParsedArtifact) { a.Title = "" }, "title is empty"},
		{"no files", func(a *schema.ParsedArtifact) { a.Files = nil }, "artifact has no files"},
		{"empty file content", func(a *schema.ParsedArtifact) { a.Files[0].Content = "" }, "has empty content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validReactArtifact()
			tt.mutate(a)
			result := ValidateArtifact(a)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Contains(t, strings.Join(result.Errors, "; "), tt.want)
		})
	}
}

func TestValidateArtifact_PathTraversalRejected(t *testing.T) {
	for _, bad := range []string{"../escape.jsx", "/etc/passwd", `a\b.jsx`, "a b.jsx"} {
		a := validReactArtifact()
		a.Files[0].Path = bad
		result := ValidateArtifact(a)
		assert.False(t, result.Valid, "path %q should be rejected", bad)
	}
}

// --- strict (schema-aware) validation ---

func TestStrict_ValidArtifactPasses(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	assert.Empty(t, v.Validate(validReactArtifact()))
}

func TestStrict_UnknownType(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := validReactArtifact()
	a.Type = "application/x-mystery"
	issues := v.Validate(a)
	require.NotEmpty(t, issues)
	assert.Contains(t, issueCodes(issues), IssueUnknownType)
}

func TestStrict_InvalidExtension(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := validReactArtifact()
	a.Files[0].Path = "App.py"
	issues := v.Validate(a)
	assert.Contains(t, issueCodes(issues), IssueInvalidExtension)
}

func TestStrict_ContentTooLarge(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := &schema.ParsedArtifact{
		Identifier: "big",
		Type:       schema.ArtifactTypeMermaid,
		Title:      "Big Diagram",
		Files: []schema.ArtifactFile{
			{Path: "big.mmd", Content: strings.Repeat("graph TD;\n", 10000)},
		},
	}
	issues := v.Validate(a)
	assert.Contains(t, issueCodes(issues), IssueContentTooLarge)
}

func TestStrict_DependencyAllowList(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := validReactArtifact()
	a.Dependencies = append(a.Dependencies, schema.ArtifactDependency{Name: "left-pad", Version: "1.0.0"})
	issues := v.Validate(a)
	assert.Contains(t, issueCodes(issues), IssueUnknownDependency)
}

func TestStrict_VersionFormat(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	valid := []string{"1", "1.2", "1.2.3", "^18.2.0", "~0.3.1", "2.0.0-beta.1", "latest", "*"}
	for _, ver := range valid {
		a := validReactArtifact()
		a.Dependencies = []schema.ArtifactDependency{{Name: "react", Version: ver}}
		assert.Empty(t, v.Validate(a), "version %q should be accepted", ver)
	}

	invalid := []string{"v1.2.3", "one.two", "1.2.3.4.5", "^^1.0"}
	for _, ver := range invalid {
		a := validReactArtifact()
		a.Dependencies = []schema.ArtifactDependency{{Name: "react", Version: ver}}
		assert.Contains(t, issueCodes(v.Validate(a)), IssueInvalidVersion, "version %q should be rejected", ver)
	}
}

func TestStrict_MissingEscapeWrapper(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := validReactArtifact()
	a.Files[0].WasEscaped = false // content has <p> markup
	issues := v.Validate(a)
	assert.Contains(t, issueCodes(issues), IssueMissingCDATA)
}

func TestStrict_NoEscapeNeededForPlainContent(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := validReactArtifact()
	a.Files[0].Content = "export default function App() { return null; }"
	a.Files[0].WasEscaped = false
	assert.Empty(t, v.Validate(a))
}

func TestStrict_UnsafePath(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := validReactArtifact()
	a.Files[0].Path = "../../etc/shadow"
	issues := v.Validate(a)
	assert.Contains(t, issueCodes(issues), IssueUnsafePath)
}

func TestStrict_MarkdownNeedsNoEscape(t *testing.T) {
	v, err := NewStrictValidator()
	require.NoError(t, err)

	a := &schema.ParsedArtifact{
		Identifier: "notes",
		Type:       schema.ArtifactTypeMarkdown,
		Title:      "Notes",
		Files: []schema.ArtifactFile{
			{Path: "notes.md", Content: "# Title\nplain text"},
		},
	}
	assert.Empty(t, v.Validate(a))
}

func TestStrict_ParseWithValidateSchemaFlagsInvalid(t *testing.T) {
	p := newParser(t)

	content := `<pasArtifact identifier="odd" type="application/x-mystery" title="Odd">
<pasFile path="thing.bin">payload</pasFile>
</pasArtifact>`

	result, err := p.ParseArtifacts(content, true)
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 1)
	assert.False(t, result.Artifacts[0].IsValid)
	assert.NotEmpty(t, result.ValidationErrors)
}
