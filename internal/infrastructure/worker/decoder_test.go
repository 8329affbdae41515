package worker

import (
	"testing"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

func TestResultDecoder(t *testing.T) {
	dec, err := NewResultDecoder()
	if err != nil {
		t.Fatalf("NewResultDecoder() error = %v", err)
	}

	t.Run("completed", func(t *testing.T) {
		res, err := dec.Decode([]byte("{\"status\":\"completed\",\"extractedText\":\"hello\",\"convertedPath\":\"/tmp/out.docx\",\"pages\":1}\n"))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if res.Status != domain.WorkerStatusCompleted || *res.ExtractedText != "hello" || *res.ConvertedPath != "/tmp/out.docx" {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("failed with reason", func(t *testing.T) {
		res, err := dec.Decode([]byte(`{"status":"failed","error":"Missing arguments"}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if res.Status != "failed" || res.Error != "Missing arguments" || res.ExtractedText != nil {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	invalid := map[string]string{
		"empty":           "",
		"whitespace":      "  \n",
		"not json":        "Traceback (most recent call last):",
		"array":           `["completed"]`,
		"missing status":  `{"extractedText":"x"}`,
		"blank status":    `{"status":""}`,
		"numeric status":  `{"status":1}`,
		"numeric text":    `{"status":"completed","extractedText":5,"convertedPath":"/x"}`,
		"trailing output": `{"status":"completed"} done`,
	}
	for name, stdout := range invalid {
		t.Run(name, func(t *testing.T) {
			if _, err := dec.Decode([]byte(stdout)); !domain.IsKind(err, domain.ErrWorkerFailure) {
				t.Fatalf("expected ErrWorkerFailure, got %v", err)
			}
		})
	}
}
