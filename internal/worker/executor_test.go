package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"plan-platform/internal/raster"
	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	"plan-platform/internal/storage/object"
	"plan-platform/pkg/log"
)

// fakeRaster 可编程的栅格化服务桩
type fakeRaster struct {
	metaByNumber map[int]*raster.SheetMetadata
	tileErr      error
	markers      []raster.Marker
}

func (f *fakeRaster) PageCount(ctx context.Context, objectKey string) (int, error) {
	return len(f.metaByNumber), nil
}

func (f *fakeRaster) ExtractSheetMetadata(ctx context.Context, pageKey string, sheetNumber int) (*raster.SheetMetadata, error) {
	m, ok := f.metaByNumber[sheetNumber]
	if !ok {
		return nil, errors.New("unknown sheet")
	}
	return m, nil
}

func (f *fakeRaster) GenerateTiles(ctx context.Context, pageKey, outputPrefix string) (*raster.TileResult, error) {
	if f.tileErr != nil {
		return nil, f.tileErr
	}
	return &raster.TileResult{DziKey: outputPrefix + "/sheet.dzi", MaxLevel: 12, TileCount: 340}, nil
}

func (f *fakeRaster) DetectMarkers(ctx context.Context, pageKey string, validSheets []string) (*raster.MarkerResult, error) {
	return &raster.MarkerResult{Markers: f.markers}, nil
}

// recordingCompletions 记录投递的完成回执
type recordingCompletions struct {
	mu      sync.Mutex
	sheets  []int
	tiles   []int
	markers []int
	err     error
}

func (c *recordingCompletions) SheetComplete(ctx context.Context, uploadID string, n int, validSheets []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sheets = append(c.sheets, n)
	return nil
}

func (c *recordingCompletions) TileComplete(ctx context.Context, uploadID string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.tiles = append(c.tiles, n)
	return nil
}

func (c *recordingCompletions) MarkerComplete(ctx context.Context, uploadID string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.markers = append(c.markers, n)
	return nil
}

func seedSheet(t *testing.T, repo *metadata.Repository, uploadID string, n int) *metadata.PlanSheet {
	t.Helper()
	sheet := &metadata.PlanSheet{
		ID:             "sheet-1",
		UploadID:       uploadID,
		PlanID:         "plan-1",
		SheetNumber:    n,
		SheetKey:       "organizations/org-1/projects/proj-1/plans/plan-1/sheets/1/page.pdf",
		MetadataStatus: metadata.StagePending,
		TileStatus:     metadata.StagePending,
		MarkerStatus:   metadata.StagePending,
	}
	if err := repo.CreateSheets(context.Background(), []*metadata.PlanSheet{sheet}); err != nil {
		t.Fatalf("CreateSheets: %v", err)
	}
	return sheet
}

func asTask(t *testing.T, payload interface{}) *stagequeue.Task {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &stagequeue.Task{ID: "task-1", Payload: b, Attempts: 1}
}

func TestMetadataExecutor(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewRepository(metadata.NewMemoryStore())
	sheet := seedSheet(t, repo, "u1", 1)
	svc := &fakeRaster{metaByNumber: map[int]*raster.SheetMetadata{
		1: {SheetNumber: 1, Name: "A5", Title: "Fifth Floor Plan"},
	}}
	completions := &recordingCompletions{}
	logger, _ := log.NewLogger(nil)
	exec := NewMetadataExecutor(svc, repo, completions, logger)

	task := asTask(t, stagequeue.MetadataJob{UploadID: "u1", SheetNumber: 1, SheetKey: sheet.SheetKey})
	if err := exec.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := repo.SheetByNumber(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("SheetByNumber: %v", err)
	}
	if got.SheetName != "A5" || got.MetadataStatus != metadata.SheetExtracted {
		t.Errorf("sheet = %+v", got)
	}
	if len(completions.sheets) != 1 || completions.sheets[0] != 1 {
		t.Errorf("completions = %v", completions.sheets)
	}
}

func TestMetadataExecutorCompletionFailure(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewRepository(metadata.NewMemoryStore())
	sheet := seedSheet(t, repo, "u1", 1)
	svc := &fakeRaster{metaByNumber: map[int]*raster.SheetMetadata{1: {Name: "A1"}}}
	completions := &recordingCompletions{err: errors.New("coordinator unreachable")}
	logger, _ := log.NewLogger(nil)
	exec := NewMetadataExecutor(svc, repo, completions, logger)

	task := asTask(t, stagequeue.MetadataJob{UploadID: "u1", SheetNumber: 1, SheetKey: sheet.SheetKey})
	// 回执失败必须返回错误（不 Ack），但产物已持久化，重放安全
	if err := exec.Execute(ctx, task); err == nil {
		t.Fatal("expected error when completion post fails")
	}
	got, _ := repo.SheetByNumber(ctx, "u1", 1)
	if got.MetadataStatus != metadata.SheetExtracted {
		t.Errorf("metadataStatus = %s, want extracted", got.MetadataStatus)
	}
}

func TestTileExecutor(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewRepository(metadata.NewMemoryStore())
	sheet := seedSheet(t, repo, "u1", 1)
	svc := &fakeRaster{}
	completions := &recordingCompletions{}
	logger, _ := log.NewLogger(nil)
	exec := NewTileExecutor(svc, repo, completions, logger)

	task := asTask(t, stagequeue.TileJob{
		UploadID: "u1", SheetNumber: 1, SheetID: sheet.ID, SheetKey: sheet.SheetKey,
		PlanID: "plan-1", ProjectID: "proj-1", OrganizationID: "org-1", TotalSheets: 1,
	})
	if err := exec.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := repo.SheetByNumber(ctx, "u1", 1)
	if got.TileStatus != metadata.TilesGenerated {
		t.Errorf("tileStatus = %s", got.TileStatus)
	}
	if len(completions.tiles) != 1 {
		t.Errorf("completions = %v", completions.tiles)
	}
}

func TestMarkerExecutorWritesArtifact(t *testing.T) {
	ctx := context.Background()
	repo := metadata.NewRepository(metadata.NewMemoryStore())
	sheet := seedSheet(t, repo, "u1", 1)
	objects := object.NewMemoryStore()
	svc := &fakeRaster{markers: []raster.Marker{
		{Type: "callout", Label: "5", TargetSheet: "A7", X: 10, Y: 20},
	}}
	completions := &recordingCompletions{}
	logger, _ := log.NewLogger(nil)
	exec := NewMarkerExecutor(svc, repo, objects, completions, logger)

	task := asTask(t, stagequeue.MarkerJob{
		UploadID: "u1", SheetNumber: 1, SheetID: sheet.ID, SheetKey: sheet.SheetKey,
		PlanID: "plan-1", ProjectID: "proj-1", OrganizationID: "org-1",
		TotalSheets: 1, ValidSheets: []string{"A7"},
	})
	if err := exec.Execute(ctx, task); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	ref := object.SheetRef{OrganizationID: "org-1", ProjectID: "proj-1", PlanID: "plan-1", SheetNumber: 1}
	rc, err := objects.Get(ctx, ref.MarkersKey())
	if err != nil {
		t.Fatalf("markers.json missing: %v", err)
	}
	blob, _ := io.ReadAll(rc)
	_ = rc.Close()
	var markers []raster.Marker
	if err := json.Unmarshal(blob, &markers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(markers) != 1 || markers[0].TargetSheet != "A7" {
		t.Errorf("markers = %+v", markers)
	}

	got, _ := repo.SheetByNumber(ctx, "u1", 1)
	if got.MarkerStatus != metadata.MarkersDetected {
		t.Errorf("markerStatus = %s", got.MarkerStatus)
	}
	if len(completions.markers) != 1 {
		t.Errorf("completions = %v", completions.markers)
	}
}
