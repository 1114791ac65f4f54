package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

// appSchemaSource constrains application definitions accepted by addApp.
// Unknown fields are allowed and stored as-is.
const appSchemaSource = `
#App: {
	code:         string & !=""
	uniqueId?:    string & !=""
	name?:        string
	description?: string
	state?: {...}
	...
}
`

// appSchema validates app definitions. A cue.Context is not safe for
// concurrent use, so validation is serialized.
type appSchema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

func newAppSchema() (*appSchema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(appSchemaSource, cue.Filename("app.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile app schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#App"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #App: %w", err)
	}
	return &appSchema{ctx: ctx, def: def}, nil
}

// appFields are the schema fields the engine reads.
type appFields struct {
	Code        string         `json:"code"`
	UniqueID    string         `json:"uniqueId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	State       map[string]any `json:"state"`
}

// validate checks raw against #App and extracts its fields.
func (s *appSchema) validate(raw json.RawMessage) (appFields, error) {
	expr, err := cuejson.Extract("app.json", raw)
	if err != nil {
		return appFields{}, &AppError{Message: "definition is not valid JSON"}
	}

	s.mu.Lock()
	v := s.def.Unify(s.ctx.BuildExpr(expr))
	err = v.Validate(cue.Concrete(true))
	s.mu.Unlock()
	if err != nil {
		return appFields{}, toAppError(err)
	}

	var f appFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return appFields{}, &AppError{Message: err.Error()}
	}
	return f, nil
}

// toAppError reduces a CUE error list to its first entry.
func toAppError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &AppError{Message: err.Error()}
	}
	first := errs[0]
	var path []string
	for _, p := range first.Path() {
		if !strings.HasPrefix(p, "#") {
			path = append(path, p)
		}
	}
	if len(path) == 0 {
		return &AppError{Message: first.Error()}
	}
	format, args := first.Msg()
	return &AppError{Path: path, Message: fmt.Sprintf(format, args...)}
}
