package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/platform/queue"
)

type fakeEnqueuer struct {
	kinds []string
	args  []interface{}
	err   error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, kind string, args interface{}) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.kinds = append(e.kinds, kind)
	e.args = append(e.args, args)
	return "job-123", nil
}

func TestAppendChunkAssemblesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	q := &fakeEnqueuer{}
	a := NewAssembler(dir, q)

	first, err := a.AppendChunk(context.Background(), "", strings.NewReader("sku,name,description\n"), false)
	if err != nil {
		t.Fatalf("AppendChunk() error: %v", err)
	}
	if first.UploadID == "" {
		t.Fatal("first chunk must mint an upload id")
	}
	if first.Complete {
		t.Error("non-final chunk must not complete the upload")
	}

	second, err := a.AppendChunk(context.Background(), first.UploadID, strings.NewReader("A-1,Widget,desc\n"), false)
	if err != nil {
		t.Fatalf("AppendChunk() error: %v", err)
	}
	if second.UploadID != first.UploadID {
		t.Errorf("upload id changed between chunks: %s vs %s", second.UploadID, first.UploadID)
	}

	final, err := a.AppendChunk(context.Background(), first.UploadID, strings.NewReader("A-2,Gadget,desc\n"), true)
	if err != nil {
		t.Fatalf("AppendChunk() final error: %v", err)
	}
	if !final.Complete {
		t.Error("final chunk must complete the upload")
	}
	if final.JobID != "job-123" {
		t.Errorf("JobID = %q", final.JobID)
	}

	if len(q.kinds) != 1 || q.kinds[0] != queue.KindImportCSV {
		t.Fatalf("expected one %s job, got %v", queue.KindImportCSV, q.kinds)
	}
	importArgs := q.args[0].(queue.ImportArgs)
	content, err := os.ReadFile(importArgs.FilePath)
	if err != nil {
		t.Fatalf("Failed to read assembled file: %v", err)
	}
	want := "sku,name,description\nA-1,Widget,desc\nA-2,Gadget,desc\n"
	if string(content) != want {
		t.Errorf("assembled file = %q, want %q", content, want)
	}
}

func TestAppendChunkRejectsForeignUploadID(t *testing.T) {
	a := NewAssembler(t.TempDir(), &fakeEnqueuer{})

	_, err := a.AppendChunk(context.Background(), "../../etc/passwd", strings.NewReader("x"), false)
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendChunkInvalidCSVDeletesFile(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, &fakeEnqueuer{})

	// An unterminated quote never parses as a CSV record.
	_, err := a.AppendChunk(context.Background(), "", strings.NewReader(`"broken`), true)
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.Error() != "Invalid CSV file format. Only CSV files are supported." {
		t.Errorf("error = %q", err.Error())
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("Failed to read upload dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("invalid upload must be deleted, found %d files", len(entries))
	}
}

func TestAppendChunkEmptyFinalIsInvalid(t *testing.T) {
	a := NewAssembler(t.TempDir(), &fakeEnqueuer{})

	_, err := a.AppendChunk(context.Background(), "", strings.NewReader(""), true)
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for empty upload, got %v", err)
	}
}

func TestAppendChunkKeepsFileOnEnqueueFailure(t *testing.T) {
	dir := t.TempDir()
	q := &fakeEnqueuer{err: errors.New("broker down")}
	a := NewAssembler(dir, q)

	status, err := a.AppendChunk(context.Background(), "", strings.NewReader("sku,name,description\n"), false)
	if err != nil {
		t.Fatalf("AppendChunk() error: %v", err)
	}

	_, err = a.AppendChunk(context.Background(), status.UploadID, strings.NewReader(""), true)
	if err == nil {
		t.Fatal("expected enqueue error to surface")
	}

	// The assembled file survives so the final chunk can be retried.
	if _, statErr := os.Stat(filepath.Join(dir, status.UploadID+".csv")); statErr != nil {
		t.Errorf("assembled file should be kept on enqueue failure: %v", statErr)
	}
}
