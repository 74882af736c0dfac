package stagequeue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueClaimAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{})

	id1, err := q.Enqueue(ctx, "plan_metadata", MetadataJob{UploadID: "u1", SheetNumber: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, "plan_metadata", MetadataJob{UploadID: "u1", SheetNumber: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// FIFO：先入先出
	task, err := q.ClaimOne(ctx, "plan_metadata", "w1")
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if task == nil || task.ID != id1 {
		t.Fatalf("ClaimOne = %+v, want first task", task)
	}
	var job MetadataJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if job.SheetNumber != 1 {
		t.Errorf("sheetNumber = %d, want 1", job.SheetNumber)
	}

	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	// 已确认的任务不再可认领
	task2, _ := q.ClaimOne(ctx, "plan_metadata", "w1")
	if task2 == nil || task2.ID == id1 {
		t.Fatalf("ClaimOne after Ack = %+v", task2)
	}
}

func TestMemoryQueue_QueueIsolation(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{})
	_, _ = q.Enqueue(ctx, "plan_tiles", TileJob{UploadID: "u1"})

	task, err := q.ClaimOne(ctx, "plan_markers", "w1")
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if task != nil {
		t.Errorf("claimed from wrong queue: %+v", task)
	}
}

func TestMemoryQueue_NackRedelivery(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{MaxAttempts: 2})
	id, _ := q.Enqueue(ctx, "plan_markers", MarkerJob{UploadID: "u1"})

	task, _ := q.ClaimOne(ctx, "plan_markers", "w1")
	if task == nil || task.Attempts != 1 {
		t.Fatalf("first claim = %+v", task)
	}
	if err := q.Nack(ctx, id, "detector unavailable"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	// 第二次认领耗尽尝试次数后转 dead
	task, _ = q.ClaimOne(ctx, "plan_markers", "w1")
	if task == nil || task.Attempts != 2 {
		t.Fatalf("second claim = %+v", task)
	}
	_ = q.Nack(ctx, id, "detector unavailable")
	task, _ = q.ClaimOne(ctx, "plan_markers", "w1")
	if task != nil {
		t.Errorf("dead task redelivered: %+v", task)
	}
}

func TestMemoryQueue_RequeueExpired(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{ClaimTimeout: time.Minute}).(*memoryQueue)
	now := time.Now()
	q.clock = func() time.Time { return now }

	id, _ := q.Enqueue(ctx, "plan_tiles", TileJob{UploadID: "u1"})
	if task, _ := q.ClaimOne(ctx, "plan_tiles", "w1"); task == nil {
		t.Fatal("claim failed")
	}

	// 未超时不重投
	if n, _ := q.RequeueExpired(ctx); n != 0 {
		t.Errorf("RequeueExpired = %d, want 0", n)
	}

	q.clock = func() time.Time { return now.Add(2 * time.Minute) }
	n, err := q.RequeueExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RequeueExpired = %d, %v", n, err)
	}
	task, _ := q.ClaimOne(ctx, "plan_tiles", "w2")
	if task == nil || task.ID != id {
		t.Errorf("expired task not redelivered: %+v", task)
	}
}
