package metadata

import (
	"context"
	"testing"
)

func TestRepository_PromoteProcessing(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(NewMemoryStore())
	_ = r.CreateJob(ctx, &ProcessingJob{UploadID: "u1", Status: JobPending})

	if err := r.PromoteProcessing(ctx, "u1"); err != nil {
		t.Fatalf("PromoteProcessing: %v", err)
	}
	job, _ := r.GetJob(ctx, "u1")
	if job.Status != JobProcessing {
		t.Errorf("status = %s", job.Status)
	}

	// 终态后不再回退
	_ = r.CompleteJob(ctx, "u1")
	if err := r.PromoteProcessing(ctx, "u1"); err != nil {
		t.Fatalf("PromoteProcessing after complete: %v", err)
	}
	job, _ = r.GetJob(ctx, "u1")
	if job.Status != JobComplete {
		t.Errorf("status after complete = %s", job.Status)
	}
}

func TestRepository_RecordDispatchError_KeepsStatus(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(NewMemoryStore())
	_ = r.CreateJob(ctx, &ProcessingJob{UploadID: "u1", Status: JobProcessing})

	if err := r.RecordDispatchError(ctx, "u1", "enqueue tile jobs: queue unavailable"); err != nil {
		t.Fatalf("RecordDispatchError: %v", err)
	}
	job, _ := r.GetJob(ctx, "u1")
	if job.Status != JobProcessing {
		t.Errorf("status changed to %s", job.Status)
	}
	if job.LastError != "enqueue tile jobs: queue unavailable" {
		t.Errorf("lastError = %q", job.LastError)
	}
}

func TestRepository_ExtractedSheets(t *testing.T) {
	ctx := context.Background()
	r := NewRepository(NewMemoryStore())
	_ = r.CreateSheets(ctx, []*PlanSheet{
		{ID: "s1", UploadID: "u1", SheetNumber: 1, SheetName: "A5", MetadataStatus: SheetExtracted},
		{ID: "s2", UploadID: "u1", SheetNumber: 2, MetadataStatus: StageFailed},
		{ID: "s3", UploadID: "u1", SheetNumber: 3, SheetName: "S12", MetadataStatus: SheetExtracted},
	})

	sheets, err := r.ExtractedSheets(ctx, "u1")
	if err != nil {
		t.Fatalf("ExtractedSheets: %v", err)
	}
	if len(sheets) != 2 || sheets[0].ID != "s1" || sheets[1].ID != "s3" {
		t.Errorf("ExtractedSheets = %+v", sheets)
	}
}
