package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lumenflow/lumenflow/internal/wu"
)

// wuSchema is the structural contract for a WU spec file. Validation runs on
// the JSON projection of the parsed YAML so the schema stays format-agnostic.
const wuSchema = `{
  "type": "object",
  "required": ["id", "title", "lane", "type", "status", "code_paths", "acceptance"],
  "properties": {
    "id": {"type": "string", "pattern": "^WU-[1-9][0-9]*$"},
    "title": {"type": "string", "minLength": 1},
    "lane": {"type": "string", "minLength": 1},
    "type": {"enum": ["feature", "bug", "refactor", "documentation", "process"]},
    "status": {"enum": ["ready", "in_progress", "blocked", "done"]},
    "code_paths": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "acceptance": {"type": "array", "items": {"type": "string"}},
    "description": {"type": "string"},
    "tests": {
      "type": "object",
      "properties": {"manual": {"type": "array", "items": {"type": "string"}}}
    },
    "worktree_path": {"type": "string"},
    "claimed_at": {"type": "string"},
    "claimed_mode": {"enum": ["worktree", "branch-only", "branch-pr"]},
    "claimed_branch": {"type": "string"},
    "session_id": {"type": "string"},
    "baseline_main_sha": {"type": "string"},
    "locked": {"type": "boolean"},
    "completed_at": {"type": "string"}
  }
}`

var compiledSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("wu.schema.json", strings.NewReader(wuSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("wu.schema.json")
}

// Fix is a schema repair the engine may apply inside the worktree. Fixes are
// never applied to the copy on main.
type Fix struct {
	Field   string
	Problem string
	Apply   func(*wu.WU)
}

// CheckSchema validates the WU against the structural schema. Fixable issues
// come back as a patch list; unfixable violations come back as errors.
func CheckSchema(w *wu.WU) (fixes []Fix, violations []string) {
	// Fixable issues first: these have one mechanical repair.
	if w.Type != "" && !w.Type.IsValid() {
		lower := wu.Type(strings.ToLower(string(w.Type)))
		if lower.IsValid() {
			t := lower
			fixes = append(fixes, Fix{
				Field:   "type",
				Problem: fmt.Sprintf("type %q is miscased", w.Type),
				Apply:   func(u *wu.WU) { u.Type = t },
			})
		}
	}
	if w.Lane != "" && !wu.ValidLane(w.Lane) {
		if fixed := titleCaseLane(w.Lane); wu.ValidLane(fixed) {
			f := fixed
			fixes = append(fixes, Fix{
				Field:   "lane",
				Problem: fmt.Sprintf("lane %q is miscased", w.Lane),
				Apply:   func(u *wu.WU) { u.Lane = f },
			})
		}
	}
	seen := map[string]bool{}
	dup := false
	for _, p := range w.CodePaths {
		if seen[p] {
			dup = true
		}
		seen[p] = true
	}
	if dup {
		fixes = append(fixes, Fix{
			Field:   "code_paths",
			Problem: "duplicate code_paths entries",
			Apply: func(u *wu.WU) {
				seen := map[string]bool{}
				var out []string
				for _, p := range u.CodePaths {
					if !seen[p] {
						seen[p] = true
						out = append(out, p)
					}
				}
				u.CodePaths = out
			},
		})
	}

	// Structural validation on a JSON projection with fixes applied, so a
	// fixable spec does not double-report.
	probe := *w
	for _, f := range fixes {
		f.Apply(&probe)
	}
	data, err := json.Marshal(&probe)
	if err != nil {
		return fixes, []string{fmt.Sprintf("cannot marshal spec: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fixes, []string{fmt.Sprintf("cannot project spec: %v", err)}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			for _, cause := range flatten(ve) {
				violations = append(violations, cause)
			}
		} else {
			violations = append(violations, err.Error())
		}
	}
	return fixes, violations
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// flatten collapses the cause tree into leaf messages with their paths.
func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(ve.InstanceLocation, "/")
		if loc == "" {
			return []string{ve.Message}
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}

func titleCaseLane(lane string) string {
	parts := strings.SplitN(lane, ":", 2)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	if len(parts) == 2 {
		return parts[0] + ": " + parts[1]
	}
	return parts[0]
}
