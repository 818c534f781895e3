package experiment

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// PlanError reports an invalid plan, with a source position when CUE has one.
type PlanError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *PlanError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadPlan reads a plan file. ".cue" files are compiled as CUE; ".yaml",
// ".yml" and ".json" are decoded as data. Either way the result is unified
// with the embedded schema, which fills defaults and rejects unknown fields.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(filepath.Base(path), data)
	case ".yaml", ".yml", ".json":
		return ParseYAML(filepath.Base(path), data)
	default:
		return Plan{}, &PlanError{Field: "file", Message: fmt.Sprintf("unsupported plan format %q", filepath.Ext(path))}
	}
}

// ParseCUE compiles a CUE plan.
func ParseCUE(filename string, src []byte) (Plan, error) {
	ctx := cuecontext.New()
	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Plan{}, formatCUEError(err)
	}
	return decode(ctx, user)
}

// ParseYAML decodes a YAML (or JSON) plan.
func ParseYAML(filename string, src []byte) (Plan, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return Plan{}, &PlanError{Field: filename, Message: err.Error()}
	}
	ctx := cuecontext.New()
	user := ctx.Encode(raw)
	if err := user.Err(); err != nil {
		return Plan{}, formatCUEError(err)
	}
	return decode(ctx, user)
}

func decode(ctx *cue.Context, user cue.Value) (Plan, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Plan{}, fmt.Errorf("embedded schema: %w", err)
	}

	v := schema.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Plan{}, formatCUEError(err)
	}

	var plan Plan
	if err := v.Decode(&plan); err != nil {
		return Plan{}, formatCUEError(err)
	}
	return normalize(plan)
}

// normalize NFC-normalizes experiment names and rejects duplicates, which
// would otherwise write two experiments into one log directory.
func normalize(plan Plan) (Plan, error) {
	seen := make(map[string]bool, len(plan.Experiments))
	for i := range plan.Experiments {
		name := norm.NFC.String(plan.Experiments[i].Name)
		if seen[name] {
			return Plan{}, &PlanError{
				Field:   fmt.Sprintf("experiments[%d].name", i),
				Message: fmt.Sprintf("duplicate experiment name %q", name),
			}
		}
		seen[name] = true
		plan.Experiments[i].Name = name
	}
	if plan.Experiments == nil {
		plan.Experiments = []Experiment{}
	}
	return plan, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	field := strings.Join(first.Path(), ".")
	if field == "" {
		field = "plan"
	}
	pe := &PlanError{Field: field, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pe.Pos = positions[0]
	}
	return pe
}
