package intake

import (
	"context"
	"errors"
	"strings"
	"testing"

	"plan-platform/internal/coordinator"
	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	"plan-platform/internal/storage/object"
	"plan-platform/pkg/config"
	pkgerrors "plan-platform/pkg/errors"
	"plan-platform/pkg/log"
)

type fixedPageCounter int

func (n fixedPageCounter) Count(ctx context.Context, data []byte, objectKey string) (int, error) {
	return int(n), nil
}

// failAfterQueue 前 n 次入队成功，之后失败
type failAfterQueue struct {
	stagequeue.Queue
	remaining int
}

func (q *failAfterQueue) Enqueue(ctx context.Context, queue string, payload interface{}) (string, error) {
	if q.remaining <= 0 {
		return "", errors.New("queue unavailable")
	}
	q.remaining--
	return q.Queue.Enqueue(ctx, queue, payload)
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		TimeoutMs:          900000,
		MarkerContextRegex: "^[A-Za-z][0-9]+$",
		MetadataQueue:      "plan_metadata",
		TileQueue:          "plan_tiles",
		MarkerQueue:        "plan_markers",
	}
}

func newService(t *testing.T, queue stagequeue.Queue, pages PageCounter) (*Service, *metadata.Repository, coordinator.StateStore) {
	t.Helper()
	states := coordinator.NewMemoryStateStore()
	repo := metadata.NewRepository(metadata.NewMemoryStore())
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	m, err := coordinator.NewManager(states, repo, queue, pipelineConfig(), logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	svc := NewService(object.NewMemoryStore(), repo, m, queue, pages, pipelineConfig(), logger)
	return svc, repo, states
}

func TestProcessUpload(t *testing.T) {
	ctx := context.Background()
	q := stagequeue.NewMemoryQueue(stagequeue.Options{})
	svc, repo, states := newService(t, q, fixedPageCounter(3))

	result, err := svc.ProcessUpload(ctx, &UploadRequest{
		UploadID:       "u1",
		PlanID:         "plan-1",
		ProjectID:      "proj-1",
		OrganizationID: "org-1",
		Filename:       "tower.pdf",
		PDF:            []byte("%PDF-1.7 fake"),
	})
	if err != nil {
		t.Fatalf("ProcessUpload: %v", err)
	}
	if result.TotalSheets != 3 || result.Status != coordinator.StatusInProgress {
		t.Errorf("result = %+v", result)
	}

	job, err := repo.GetJob(ctx, "u1")
	if err != nil || job.Status != metadata.JobPending {
		t.Errorf("job = %+v, err = %v", job, err)
	}
	sheets, err := repo.ListSheets(ctx, "u1")
	if err != nil || len(sheets) != 3 {
		t.Fatalf("sheets = %d, err = %v", len(sheets), err)
	}
	if !strings.HasSuffix(sheets[0].SheetKey, "/sheets/1/page.pdf") {
		t.Errorf("sheetKey = %s", sheets[0].SheetKey)
	}
	if _, err := states.Load(ctx, "u1"); err != nil {
		t.Errorf("coordinator state missing: %v", err)
	}

	// 三个阶段一任务已入队
	for i := 0; i < 3; i++ {
		task, err := q.ClaimOne(ctx, "plan_metadata", "w1")
		if err != nil || task == nil {
			t.Fatalf("claim %d: %+v, %v", i, task, err)
		}
	}
}

func TestProcessUploadValidation(t *testing.T) {
	ctx := context.Background()
	q := stagequeue.NewMemoryQueue(stagequeue.Options{})
	svc, _, _ := newService(t, q, fixedPageCounter(1))

	cases := []*UploadRequest{
		{PlanID: "", ProjectID: "p", OrganizationID: "o", PDF: []byte("%PDF-")},
		{PlanID: "p", ProjectID: "p", OrganizationID: "o", PDF: nil},
		{PlanID: "p", ProjectID: "p", OrganizationID: "o", PDF: []byte("not a pdf")},
	}
	for i, req := range cases {
		if _, err := svc.ProcessUpload(ctx, req); !errors.Is(err, pkgerrors.ErrInvalidArg) {
			t.Errorf("case %d: %v", i, err)
		}
	}
}

func TestProcessUploadEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	q := &failAfterQueue{Queue: stagequeue.NewMemoryQueue(stagequeue.Options{}), remaining: 1}
	svc, _, states := newService(t, q, fixedPageCounter(2))

	_, err := svc.ProcessUpload(ctx, &UploadRequest{
		UploadID:       "u2",
		PlanID:         "plan-1",
		ProjectID:      "proj-1",
		OrganizationID: "org-1",
		PDF:            []byte("%PDF-1.7"),
	})
	if err == nil {
		t.Fatal("expected enqueue failure")
	}
	// 入队失败仍返回错误，但管线已初始化，告警会为残局兜底
	state, err := states.Load(ctx, "u2")
	if err != nil {
		t.Fatalf("coordinator state missing: %v", err)
	}
	if state.Status != coordinator.StatusInProgress {
		t.Errorf("status = %s", state.Status)
	}
}
