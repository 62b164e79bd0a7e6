package parser

import (
	"fmt"
	"strings"

	"github.com/rendis/artifactflow/pkg/schema"
)

// fenceLanguages maps fenced-code languages to the artifact type and file
// path the fallback path emits for them. Only UI-renderable languages are
// recognized; data and query languages are ignored on purpose.
var fenceLanguages = map[string]struct {
	artifactType schema.ArtifactType
	path         string
}{
	"jsx":  {schema.ArtifactTypeReact, "App.jsx"},
	"tsx":  {schema.ArtifactTypeReact, "App.tsx"},
	"html": {schema.ArtifactTypeHTML, "index.html"},
}

// ExtractCodeBlocks is the fallback detection path used when no structured
// artifact blocks are present. It emits exactly one artifact per fenced code
// region tagged with a recognized language, in document order.
func ExtractCodeBlocks(content string) []schema.ParsedArtifact {
	var artifacts []schema.ParsedArtifact

	rest := content
	seq := 0
	for {
		idx := strings.Index(rest, "```")
		if idx < 0 {
			return artifacts
		}
		lineEnd := strings.Index(rest[idx:], "\n")
		if lineEnd < 0 {
			return artifacts
		}
		lineEnd += idx

		lang := strings.ToLower(strings.TrimSpace(rest[idx+3 : lineEnd]))

		closeIdx := strings.Index(rest[lineEnd+1:], "```")
		if closeIdx < 0 {
			return artifacts
		}
		closeIdx += lineEnd + 1

		body := rest[lineEnd+1 : closeIdx]
		raw := rest[idx : closeIdx+3]
		rest = rest[closeIdx+3:]

		target, ok := fenceLanguages[lang]
		if !ok || strings.TrimSpace(body) == "" {
			continue
		}

		seq++
		artifact := schema.ParsedArtifact{
			Identifier: fmt.Sprintf("code-block-%d", seq),
			Type:       target.artifactType,
			Title:      fmt.Sprintf("Code Block %d", seq),
			Files: []schema.ArtifactFile{
				{Path: target.path, Content: strings.TrimSuffix(body, "\n")},
			},
			RawBlock: raw,
		}
		artifact.IsValid = ValidateArtifact(&artifact).Valid
		artifacts = append(artifacts, artifact)
	}
}
