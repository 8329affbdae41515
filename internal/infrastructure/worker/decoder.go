package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

const resultSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "minLength": 1},
		"extractedText": {"type": ["string", "null"]},
		"convertedPath": {"type": ["string", "null"]},
		"error": {"type": ["string", "null"]}
	}
}`

var errEmptyOutput = errors.New("worker printed nothing on stdout")

// ResultDecoder validates worker stdout against the result schema before
// decoding it. Unknown fields are allowed.
type ResultDecoder struct {
	schema *jsonschema.Schema
}

func NewResultDecoder() (*ResultDecoder, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("worker-result.json", strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("worker-result.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ResultDecoder{schema: schema}, nil
}

func (d *ResultDecoder) Decode(stdout []byte) (domain.WorkerResult, error) {
	raw := bytes.TrimSpace(stdout)
	if len(raw) == 0 {
		return domain.WorkerResult{}, domain.WrapError(domain.ErrWorkerFailure, "decode worker output", errEmptyOutput)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.WorkerResult{}, domain.WrapError(domain.ErrWorkerFailure, "decode worker output", fmt.Errorf("unmarshal: %w", err))
	}
	if err := d.schema.Validate(v); err != nil {
		return domain.WorkerResult{}, domain.WrapError(domain.ErrWorkerFailure, "decode worker output", fmt.Errorf("json does not match schema: %w", err))
	}

	var result domain.WorkerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.WorkerResult{}, domain.WrapError(domain.ErrWorkerFailure, "decode worker output", err)
	}
	return result, nil
}
