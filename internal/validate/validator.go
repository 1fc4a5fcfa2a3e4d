// Package validate checks request bodies against embedded JSON schemas before
// they are decoded into typed request structs.
package validate

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/labourconnect/backend/internal/models"
)

// Request schema names.
const (
	Signup       = "signup"
	OTPSend      = "otp_send"
	OTPVerify    = "otp_verify"
	Recharge     = "recharge"
	JobCreate    = "job_create"
	JobStatus    = "job_status"
	BidCreate    = "bid_create"
	ReviewCreate = "review_create"
)

const maxBodyBytes = 1 << 20

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrValidation can be used with errors.Is. It also matches models.ErrInvalidInput.
var ErrValidation = fmt.Errorf("validation failed: %w", models.ErrInvalidInput)

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema. A schema that does not compile is a
// programming error, so callers usually treat the error as fatal.
func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		id := "https://labourconnect.dev/schemas/" + name + ".json"
		schemas[name], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks raw JSON against the named schema.
func (v *Validator) Validate(name string, raw []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON", ErrValidation)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Decode reads r's body, validates it against the named schema and unmarshals
// it into dst.
func (v *Validator) Decode(r *http.Request, name string, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: unreadable body", ErrValidation)
	}
	if len(raw) > maxBodyBytes {
		return fmt.Errorf("%w: body too large", ErrValidation)
	}
	if err := v.Validate(name, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
