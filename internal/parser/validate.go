package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/artifactflow/internal/expressions"
	"github.com/rendis/artifactflow/pkg/schema"
)

// artifactSchemaJSON is the JSON Schema for ParsedArtifact shape validation.
// Embedded as a constant to avoid filesystem dependencies.
const artifactSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://artifactflow.dev/schemas/artifact.json",
  "type": "object",
  "required": ["identifier", "type", "title", "files"],
  "properties": {
    "identifier": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[a-zA-Z0-9][a-zA-Z0-9._-]*$"
    },
    "type": {
      "type": "string",
      "minLength": 1
    },
    "title": {
      "type": "string",
      "minLength": 1
    },
    "description": {
      "type": "string"
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "version": { "type": "string" }
        },
        "additionalProperties": false
      }
    },
    "files": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["path", "content"],
        "properties": {
          "path": { "type": "string", "minLength": 1 },
          "content": { "type": "string", "minLength": 1 },
          "was_escaped": { "type": "boolean" }
        },
        "additionalProperties": false
      }
    },
    "raw_block": { "type": "string" },
    "is_valid": { "type": "boolean" }
  },
  "additionalProperties": false
}`

// Issue codes for strict validation.
const (
	IssueUnknownType       = "unknown_type"
	IssueInvalidExtension  = "invalid_extension"
	IssueContentTooLarge   = "content_too_large"
	IssueUnknownDependency = "unknown_dependency"
	IssueInvalidVersion    = "invalid_version"
	IssueMissingCDATA      = "missing_cdata"
	IssueUnsafePath        = "unsafe_path"
	IssueSchemaViolation   = "schema_violation"
	IssuePolicyViolation   = "policy_violation"
)

// ValidationIssue is one strict-validation failure, tagged with a code the
// UI can key error banners off.
type ValidationIssue struct {
	Code       string `json:"code"`
	ArtifactID string `json:"artifact_id"`
	Message    string `json:"message"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s [%s]: %s", i.ArtifactID, i.Code, i.Message)
}

// ValidationResult is the outcome of structural validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

var (
	versionPattern  = regexp.MustCompile(`^[\^~]?\d+(\.\d+){0,2}(-[0-9A-Za-z.-]+)?$|^latest$|^\*$`)
	safePathPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)
)

// ValidateArtifact performs structural validation: non-empty identifier,
// type, and title, at least one file, each file with a non-empty safe path
// and non-empty content.
func ValidateArtifact(a *schema.ParsedArtifact) ValidationResult {
	var errs []string
	if a == nil {
		return ValidationResult{Errors: []string{"artifact is nil"}}
	}
	if a.Identifier == "" {
		errs = append(errs, "identifier is empty")
	}
	if a.Type == "" {
		errs = append(errs, "type is empty")
	}
	if a.Title == "" {
		errs = append(errs, "title is empty")
	}
	if len(a.Files) == 0 {
		errs = append(errs, "artifact has no files")
	}
	for i, f := range a.Files {
		if f.Path == "" {
			errs = append(errs, fmt.Sprintf("file %d has empty path", i))
		} else if !isSafePath(f.Path) {
			errs = append(errs, fmt.Sprintf("file path %q is unsafe", f.Path))
		}
		if f.Content == "" {
			errs = append(errs, fmt.Sprintf("file %q has empty content", f.Path))
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// StrictValidator performs the schema-aware validation pass: JSON Schema
// shape checks, then the per-type rule table, then optional CEL policy
// guards. Safe for concurrent use.
type StrictValidator struct {
	artifactSchema *jsonschema.Schema
	cel            *expressions.CELEngine
}

// NewStrictValidator compiles the embedded artifact schema and the CEL
// policy environment.
func NewStrictValidator() (*StrictValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(artifactSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal artifact schema: %w", err)
	}
	if err := c.AddResource("https://artifactflow.dev/schemas/artifact.json", doc); err != nil {
		return nil, fmt.Errorf("add artifact schema resource: %w", err)
	}
	compiled, err := c.Compile("https://artifactflow.dev/schemas/artifact.json")
	if err != nil {
		return nil, fmt.Errorf("compile artifact schema: %w", err)
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create policy engine: %w", err)
	}

	return &StrictValidator{artifactSchema: compiled, cel: celEngine}, nil
}

// Validate runs the full strict pass and returns every issue found.
// An empty slice means the artifact passed.
func (v *StrictValidator) Validate(a *schema.ParsedArtifact) []ValidationIssue {
	if a == nil {
		return []ValidationIssue{{Code: IssueSchemaViolation, Message: "artifact is nil"}}
	}

	var issues []ValidationIssue
	add := func(code, format string, args ...any) {
		issues = append(issues, ValidationIssue{
			Code:       code,
			ArtifactID: a.Identifier,
			Message:    fmt.Sprintf(format, args...),
		})
	}

	// Shape check against the embedded JSON Schema.
	if doc, err := toJSONValue(a); err == nil {
		if err := v.artifactSchema.Validate(doc); err != nil {
			add(IssueSchemaViolation, "artifact shape invalid: %s", err.Error())
		}
	}

	rule, known := schema.TypeRules[a.Type]
	if !known {
		add(IssueUnknownType, "unsupported artifact type %q", a.Type)
		return issues
	}

	for _, f := range a.Files {
		if !isSafePath(f.Path) {
			add(IssueUnsafePath, "file path %q contains traversal or unsafe characters", f.Path)
		}
		if len(rule.Extensions) > 0 && !hasAllowedExtension(f.Path, rule.Extensions) {
			add(IssueInvalidExtension, "file %q does not match required extensions %v for type %s",
				f.Path, rule.Extensions, a.Type)
		}
		if rule.RequiresEscape && !f.WasEscaped && containsMarkupSensitive(f.Content) {
			add(IssueMissingCDATA, "file %q contains markup-sensitive characters but was not wrapped in a literal-escape section", f.Path)
		}
	}

	if rule.MaxContentBytes > 0 && a.ContentBytes() > rule.MaxContentBytes {
		add(IssueContentTooLarge, "aggregate content %d bytes exceeds limit %d for type %s",
			a.ContentBytes(), rule.MaxContentBytes, a.Type)
	}

	for _, dep := range a.Dependencies {
		if !dependencyAllowed(dep.Name, rule.AllowedDependencies) {
			add(IssueUnknownDependency, "dependency %q is not on the allow-list for type %s", dep.Name, a.Type)
		}
		if dep.Version != "" && !versionPattern.MatchString(dep.Version) {
			add(IssueInvalidVersion, "dependency %q has malformed version %q", dep.Name, dep.Version)
		}
	}

	if rule.Policy != "" {
		ok, err := v.cel.EvaluateBool(context.Background(), rule.Policy, map[string]any{
			"artifact": artifactDoc(a),
		})
		if err != nil {
			add(IssuePolicyViolation, "policy evaluation failed: %s", err.Error())
		} else if !ok {
			add(IssuePolicyViolation, "artifact rejected by type policy")
		}
	}

	return issues
}

func isSafePath(p string) bool {
	if p == "" || strings.Contains(p, "..") || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	return safePathPattern.MatchString(p)
}

func hasAllowedExtension(filePath string, exts []string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	for _, allowed := range exts {
		if ext == allowed {
			return true
		}
	}
	return false
}

func containsMarkupSensitive(content string) bool {
	return strings.ContainsAny(content, "<>&")
}

func dependencyAllowed(name string, allowList []string) bool {
	for _, allowed := range allowList {
		if name == allowed {
			return true
		}
	}
	return false
}

// artifactDoc projects an artifact into the CEL policy environment.
func artifactDoc(a *schema.ParsedArtifact) map[string]any {
	return map[string]any{
		"identifier":    a.Identifier,
		"type":          string(a.Type),
		"title":         a.Title,
		"description":   a.Description,
		"file_count":    int64(len(a.Files)),
		"content_bytes": int64(a.ContentBytes()),
	}
}

// toJSONValue round-trips a value through JSON so the schema validator sees
// json.Number for numbers, matching Draft 2020-12 semantics.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
}
