// Package parser extracts structured artifact blocks from free-form
// assistant-response text. Blocks originate from a generative model, so the
// scanner is deliberately tolerant: an individually-malformed block is
// dropped and scanning continues with the next one. Only entirely absent
// input is an error.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/rendis/artifactflow/pkg/schema"
)

// Block delimiters. Not a general XML parser; the grammar is exactly the
// artifact block format and nothing more.
const (
	artifactOpenPrefix = "<pasArtifact"
	artifactCloseTag   = "</pasArtifact>"
	fileOpenPrefix     = "<pasFile"
	fileCloseTag       = "</pasFile>"
	depOpenPrefix      = "<pasDependency"
	cdataOpen          = "<![CDATA["
	cdataClose         = "]]>"
)

var attrPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*=\s*"([^"]*)"`)

// ParseResult is the outcome of one parse batch.
type ParseResult struct {
	HasArtifacts            bool                    `json:"has_artifacts"`
	Artifacts               []schema.ParsedArtifact `json:"artifacts,omitempty"`
	ContentWithoutArtifacts string                  `json:"content_without_artifacts"`
	ValidationErrors        []string                `json:"validation_errors,omitempty"`
	ParsingTime             time.Duration           `json:"parsing_time"`
}

// Parser extracts and validates artifact blocks. A zero-config Parser is
// usable; the strict validator is attached for schema-aware validation.
type Parser struct {
	strict *StrictValidator
}

// New creates a Parser. The strict validator compiles the artifact JSON
// Schema once; construction fails only if the embedded schema is broken.
func New() (*Parser, error) {
	sv, err := NewStrictValidator()
	if err != nil {
		return nil, err
	}
	return &Parser{strict: sv}, nil
}

// HasArtifactTags is a cheap presence check without a full parse.
func HasArtifactTags(content string) bool {
	return strings.Contains(content, artifactOpenPrefix)
}

// ParseArtifacts scans content for artifact blocks and extracts one record
// per well-formed block, in document order. Malformed blocks are dropped
// without aborting the scan. ContentWithoutArtifacts is the input with every
// recognized block removed, surrounding prose preserved byte-for-byte.
//
// With validateSchema set, each artifact additionally runs through the
// strict schema-aware validation pass; failures mark the artifact invalid
// and are reported in ValidationErrors.
//
// Returns an error only for empty input; there is no sensible partial
// result for nothing.
func (p *Parser) ParseArtifacts(content string, validateSchema bool) (*ParseResult, error) {
	if content == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "content is empty")
	}

	start := time.Now()
	result := &ParseResult{}

	var kept strings.Builder
	rest := content

	for {
		idx := strings.Index(rest, artifactOpenPrefix)
		if idx < 0 {
			kept.WriteString(rest)
			break
		}

		openEnd := strings.Index(rest[idx:], ">")
		if openEnd < 0 {
			// Truncated open tag: nothing recognizable follows.
			kept.WriteString(rest)
			break
		}
		openEnd += idx

		closeIdx := indexOutsideEscapes(rest[openEnd:], artifactCloseTag)
		if closeIdx < 0 {
			// Missing closing marker: drop this block, keep scanning after
			// the open tag so later blocks still parse.
			result.ValidationErrors = append(result.ValidationErrors,
				"artifact block missing closing marker")
			kept.WriteString(rest[:openEnd+1])
			rest = rest[openEnd+1:]
			continue
		}
		closeIdx += openEnd

		rawBlock := rest[idx : closeIdx+len(artifactCloseTag)]
		body := rest[openEnd+1 : closeIdx]

		// A nested open tag means this block never closed and its close
		// search swallowed the next block. Drop this one and rescan from
		// the inner block.
		if indexOutsideEscapes(body, artifactOpenPrefix) >= 0 {
			result.ValidationErrors = append(result.ValidationErrors,
				"artifact block missing closing marker")
			kept.WriteString(rest[:openEnd+1])
			rest = rest[openEnd+1:]
			continue
		}

		attrs := parseAttributes(rest[idx+len(artifactOpenPrefix) : openEnd])

		artifact, errs := buildArtifact(attrs, body, rawBlock)
		result.ValidationErrors = append(result.ValidationErrors, errs...)
		if artifact != nil {
			if validateSchema {
				for _, issue := range p.strict.Validate(artifact) {
					artifact.IsValid = false
					result.ValidationErrors = append(result.ValidationErrors, issue.String())
				}
			}
			result.Artifacts = append(result.Artifacts, *artifact)
		}

		// The recognized block is removed from the prose either way.
		kept.WriteString(rest[:idx])
		rest = rest[closeIdx+len(artifactCloseTag):]
	}

	result.HasArtifacts = len(result.Artifacts) > 0
	result.ContentWithoutArtifacts = kept.String()
	result.ParsingTime = time.Since(start)
	return result, nil
}

// buildArtifact assembles a ParsedArtifact from the open-tag attributes and
// block body. Returns nil (with reasons) when a required attribute is
// missing or no file could be extracted.
func buildArtifact(attrs map[string]string, body, rawBlock string) (*schema.ParsedArtifact, []string) {
	var errs []string

	identifier := attrs["identifier"]
	typ := attrs["type"]
	title := attrs["title"]
	if identifier == "" || typ == "" || title == "" {
		errs = append(errs, "artifact block missing required attribute (identifier, type, title)")
		return nil, errs
	}

	artifact := &schema.ParsedArtifact{
		Identifier:  identifier,
		Type:        schema.ArtifactType(typ),
		Title:       title,
		Description: attrs["description"],
		RawBlock:    rawBlock,
	}

	artifact.Dependencies = parseDependencies(body)

	files, fileErrs := parseFiles(body)
	errs = append(errs, fileErrs...)
	if len(files) == 0 {
		errs = append(errs, "artifact block "+identifier+" has no files")
		return nil, errs
	}
	artifact.Files = files

	validation := ValidateArtifact(artifact)
	artifact.IsValid = validation.Valid
	errs = append(errs, validation.Errors...)
	return artifact, errs
}

// parseAttributes extracts key="value" pairs from an open-tag attribute
// region.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(s, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

// parseDependencies extracts self-closing dependency declarations in
// document order.
func parseDependencies(body string) []schema.ArtifactDependency {
	var deps []schema.ArtifactDependency
	rest := body
	for {
		idx := indexOutsideEscapes(rest, depOpenPrefix)
		if idx < 0 {
			return deps
		}
		end := strings.Index(rest[idx:], ">")
		if end < 0 {
			return deps
		}
		end += idx
		attrs := parseAttributes(rest[idx+len(depOpenPrefix) : end])
		if name := attrs["name"]; name != "" {
			deps = append(deps, schema.ArtifactDependency{
				Name:    name,
				Version: attrs["version"],
			})
		}
		rest = rest[end+1:]
	}
}

// parseFiles extracts named file blocks in document order. A file missing
// its closing marker is dropped; remaining files still parse.
func parseFiles(body string) ([]schema.ArtifactFile, []string) {
	var files []schema.ArtifactFile
	var errs []string

	rest := body
	for {
		idx := indexOutsideEscapes(rest, fileOpenPrefix)
		if idx < 0 {
			return files, errs
		}
		openEnd := strings.Index(rest[idx:], ">")
		if openEnd < 0 {
			return files, errs
		}
		openEnd += idx

		closeIdx := indexOutsideEscapes(rest[openEnd:], fileCloseTag)
		if closeIdx < 0 {
			errs = append(errs, "file block missing closing marker")
			rest = rest[openEnd+1:]
			continue
		}
		closeIdx += openEnd

		attrs := parseAttributes(rest[idx+len(fileOpenPrefix) : openEnd])
		raw := rest[openEnd+1 : closeIdx]
		content, escaped := unwrapEscape(raw)

		if path := attrs["path"]; path != "" {
			files = append(files, schema.ArtifactFile{
				Path:       path,
				Content:    content,
				WasEscaped: escaped,
			})
		} else {
			errs = append(errs, "file block missing path attribute")
		}

		rest = rest[closeIdx+len(fileCloseTag):]
	}
}

// indexOutsideEscapes returns the index of the first occurrence of token in
// s that does not fall inside a literal-escape span, or -1. Escape payloads
// are verbatim and may themselves contain block markers; those must not
// terminate or open a block. An unterminated escape span hides everything
// after it.
func indexOutsideEscapes(s, token string) int {
	offset := 0
	for {
		idx := strings.Index(s[offset:], token)
		if idx < 0 {
			return -1
		}
		idx += offset

		open := strings.LastIndex(s[:idx], cdataOpen)
		if open < 0 {
			return idx
		}
		end := strings.Index(s[open:], cdataClose)
		if end < 0 {
			return -1
		}
		if open+end < idx {
			// The nearest escape span closed before the match.
			return idx
		}
		offset = open + end + len(cdataClose)
	}
}

// unwrapEscape strips a literal-escape wrapper, preserving the payload
// verbatim. Content outside a wrapper is returned whitespace-trimmed, since
// unescaped payloads are authored inline with the surrounding markup.
func unwrapEscape(raw string) (content string, escaped bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, cdataOpen) && strings.HasSuffix(trimmed, cdataClose) {
		return trimmed[len(cdataOpen) : len(trimmed)-len(cdataClose)], true
	}
	return trimmed, false
}
