package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"plan-platform/internal/stagequeue"
	"plan-platform/internal/storage/metadata"
	"plan-platform/pkg/config"
	"plan-platform/pkg/log"
)

// captureQueue 记录入队的任务，并可按队列名注入失败
type captureQueue struct {
	stagequeue.Queue
	mu      sync.Mutex
	byQueue map[string][][]byte
	failOn  map[string]error
}

func newCaptureQueue() *captureQueue {
	return &captureQueue{
		Queue:   stagequeue.NewMemoryQueue(stagequeue.Options{}),
		byQueue: make(map[string][][]byte),
		failOn:  make(map[string]error),
	}
}

func (q *captureQueue) Enqueue(ctx context.Context, queue string, payload interface{}) (string, error) {
	q.mu.Lock()
	if err := q.failOn[queue]; err != nil {
		q.mu.Unlock()
		return "", err
	}
	b, _ := json.Marshal(payload)
	q.byQueue[queue] = append(q.byQueue[queue], b)
	q.mu.Unlock()
	return q.Queue.Enqueue(ctx, queue, payload)
}

func (q *captureQueue) count(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byQueue[queue])
}

func (q *captureQueue) setFail(queue string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		delete(q.failOn, queue)
	} else {
		q.failOn[queue] = err
	}
}

type fixture struct {
	m      *Manager
	states StateStore
	store  metadata.Store
	repo   *metadata.Repository
	q      *captureQueue
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		TimeoutMs:          900000,
		MarkerContextRegex: "^[A-Za-z][0-9]+$",
		MetadataQueue:      "plan_metadata",
		TileQueue:          "plan_tiles",
		MarkerQueue:        "plan_markers",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	states := NewMemoryStateStore()
	store := metadata.NewMemoryStore()
	repo := metadata.NewRepository(store)
	q := newCaptureQueue()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	m, err := NewManager(states, repo, q, testConfig(), logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return &fixture{m: m, states: states, store: store, repo: repo, q: q}
}

// seedUpload 准备 processing_jobs 行与已提取的 plan_sheets 行；
// names[i] 为第 i+1 页的页名，空串表示未提取出页名
func (f *fixture) seedUpload(t *testing.T, uploadID string, names []string) {
	t.Helper()
	ctx := context.Background()
	err := f.repo.CreateJob(ctx, &metadata.ProcessingJob{
		UploadID:       uploadID,
		PlanID:         "plan-1",
		ProjectID:      "proj-1",
		OrganizationID: "org-1",
		Status:         metadata.JobPending,
		StartedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	sheets := make([]*metadata.PlanSheet, len(names))
	for i := range names {
		sheets[i] = &metadata.PlanSheet{
			ID:             fmt.Sprintf("%s-sheet-%d", uploadID, i+1),
			UploadID:       uploadID,
			PlanID:         "plan-1",
			SheetNumber:    i + 1,
			SheetKey:       fmt.Sprintf("organizations/org-1/projects/proj-1/plans/plan-1/sheets/%d/page.pdf", i+1),
			MetadataStatus: metadata.StagePending,
			TileStatus:     metadata.StagePending,
			MarkerStatus:   metadata.StagePending,
		}
	}
	if err := f.repo.CreateSheets(ctx, sheets); err != nil {
		t.Fatalf("CreateSheets: %v", err)
	}
	for i, s := range sheets {
		if err := f.store.UpdateSheetMetadata(ctx, s.ID, names[i], s.SheetKey, metadata.SheetExtracted); err != nil {
			t.Fatalf("UpdateSheetMetadata: %v", err)
		}
	}
}

func (f *fixture) mustState(t *testing.T, uploadID string) *State {
	t.Helper()
	s, err := f.states.Load(context.Background(), uploadID)
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached within timeout")
}

func TestHappyPathThreeSheets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u1", []string{"A1", "A2", "A3"})

	state, err := f.m.Initialize(ctx, "u1", 3, 900000)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if state.Status != StatusInProgress {
		t.Fatalf("status = %s", state.Status)
	}

	for _, n := range []int{1, 2, 3} {
		if _, err := f.m.SheetComplete(ctx, "u1", n, nil); err != nil {
			t.Fatalf("SheetComplete(%d): %v", n, err)
		}
	}
	if got := f.q.count("plan_tiles"); got != 3 {
		t.Errorf("tile jobs = %d, want 3", got)
	}
	if st := f.mustState(t, "u1"); st.Status != StatusTilesInProgress {
		t.Fatalf("status = %s, want tiles_in_progress", st.Status)
	}

	for _, n := range []int{2, 1, 3} {
		if _, err := f.m.TileComplete(ctx, "u1", n); err != nil {
			t.Fatalf("TileComplete(%d): %v", n, err)
		}
	}
	if got := f.q.count("plan_markers"); got != 3 {
		t.Errorf("marker jobs = %d, want 3", got)
	}
	if st := f.mustState(t, "u1"); st.Status != StatusMarkersInProgress {
		t.Fatalf("status = %s, want markers_in_progress", st.Status)
	}

	for _, n := range []int{3, 1, 2} {
		if _, err := f.m.MarkerComplete(ctx, "u1", n); err != nil {
			t.Fatalf("MarkerComplete(%d): %v", n, err)
		}
	}
	if st := f.mustState(t, "u1"); st.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", st.Status)
	}
	job, err := f.repo.GetJob(ctx, "u1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != metadata.JobComplete {
		t.Errorf("job status = %s, want complete", job.Status)
	}

	// complete 之前必须已解除告警
	f.m.alarms.mu.Lock()
	_, armed := f.m.alarms.timers["u1"]
	f.m.alarms.mu.Unlock()
	if armed {
		t.Error("alarm still armed after complete")
	}
}

func TestIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u1", []string{"A1", "A2", "A3"})
	if _, err := f.m.Initialize(ctx, "u1", 3, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 每个回执连发两次：结果与单次投递一致，扇出仍各 3 个
	for _, n := range []int{1, 2, 3} {
		for i := 0; i < 2; i++ {
			if _, err := f.m.SheetComplete(ctx, "u1", n, nil); err != nil {
				t.Fatalf("SheetComplete(%d): %v", n, err)
			}
		}
	}
	for _, n := range []int{1, 2, 3} {
		for i := 0; i < 2; i++ {
			if _, err := f.m.TileComplete(ctx, "u1", n); err != nil {
				t.Fatalf("TileComplete(%d): %v", n, err)
			}
		}
	}
	for _, n := range []int{1, 2, 3} {
		for i := 0; i < 2; i++ {
			if _, err := f.m.MarkerComplete(ctx, "u1", n); err != nil {
				t.Fatalf("MarkerComplete(%d): %v", n, err)
			}
		}
	}

	if got := f.q.count("plan_tiles"); got != 3 {
		t.Errorf("tile jobs = %d, want 3", got)
	}
	if got := f.q.count("plan_markers"); got != 3 {
		t.Errorf("marker jobs = %d, want 3", got)
	}
	if st := f.mustState(t, "u1"); st.Status != StatusComplete {
		t.Errorf("status = %s, want complete", st.Status)
	}
}

func TestTimeoutWithoutCompletions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u2", []string{"A1", "A2", "A3", "A4", "A5"})
	if _, err := f.m.Initialize(ctx, "u2", 5, 50); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return f.mustState(t, "u2").Status == StatusFailedTimeout
	})
	job, err := f.repo.GetJob(ctx, "u2")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != metadata.JobFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if !strings.HasPrefix(job.LastError, "Processing timeout") {
		t.Errorf("lastError = %q", job.LastError)
	}
}

func TestTimeoutMidStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u3", []string{"A1", "A2"})
	if _, err := f.m.Initialize(ctx, "u3", 2, 100); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.m.SheetComplete(ctx, "u3", 1, nil); err != nil {
		t.Fatalf("SheetComplete: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return f.mustState(t, "u3").Status == StatusFailedTimeout
	})
	st := f.mustState(t, "u3")
	if len(st.CompletedSheets) != 1 || !st.CompletedSheets[1] {
		t.Errorf("completedSheets = %v", st.CompletedSheets)
	}
	if len(st.CompletedTiles) != 0 {
		t.Errorf("completedTiles = %v", st.CompletedTiles)
	}
	// 扇出从未发生：只有 sheetComplete(2) 才会触发
	if got := f.q.count("plan_tiles"); got != 0 {
		t.Errorf("tile jobs = %d, want 0", got)
	}
}

func TestValidSheetsFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u5", []string{"A5", "A6", "Sheet-14a8", "S12"})
	if _, err := f.m.Initialize(ctx, "u5", 4, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for n := 1; n <= 4; n++ {
		if _, err := f.m.SheetComplete(ctx, "u5", n, nil); err != nil {
			t.Fatalf("SheetComplete: %v", err)
		}
	}
	for n := 1; n <= 4; n++ {
		if _, err := f.m.TileComplete(ctx, "u5", n); err != nil {
			t.Fatalf("TileComplete: %v", err)
		}
	}

	f.q.mu.Lock()
	jobs := f.q.byQueue["plan_markers"]
	f.q.mu.Unlock()
	if len(jobs) != 4 {
		t.Fatalf("marker jobs = %d, want 4", len(jobs))
	}
	var mj stagequeue.MarkerJob
	if err := json.Unmarshal(jobs[0], &mj); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := []string{"A5", "A6", "S12"}
	if len(mj.ValidSheets) != len(want) {
		t.Fatalf("validSheets = %v, want %v", mj.ValidSheets, want)
	}
	for i := range want {
		if mj.ValidSheets[i] != want[i] {
			t.Fatalf("validSheets = %v, want %v", mj.ValidSheets, want)
		}
	}
}

func TestFanOutCrashRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u6", []string{"A1", "A2"})
	if _, err := f.m.Initialize(ctx, "u6", 2, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	f.q.setFail("plan_tiles", errors.New("publisher down"))
	if _, err := f.m.SheetComplete(ctx, "u6", 1, nil); err != nil {
		t.Fatalf("SheetComplete: %v", err)
	}
	// 扇出失败被吞掉，状态停在 triggering_tiles 闩锁
	if _, err := f.m.SheetComplete(ctx, "u6", 2, nil); err != nil {
		t.Fatalf("SheetComplete: %v", err)
	}
	st := f.mustState(t, "u6")
	if st.Status != StatusTriggeringTiles {
		t.Fatalf("status = %s, want triggering_tiles", st.Status)
	}
	job, _ := f.repo.GetJob(ctx, "u6")
	if job.LastError == "" {
		t.Error("lastError not recorded on dispatch failure")
	}

	// 重放也不会二次扇出：状态已离开 in_progress
	f.q.setFail("plan_tiles", nil)
	if _, err := f.m.SheetComplete(ctx, "u6", 2, nil); err != nil {
		t.Fatalf("replay SheetComplete: %v", err)
	}
	if got := f.q.count("plan_tiles"); got != 0 {
		t.Errorf("tile jobs = %d, want 0", got)
	}

	// 告警兜底转 failed_timeout
	if err := f.m.Alarm("u6"); err != nil {
		t.Fatalf("Alarm: %v", err)
	}
	if st := f.mustState(t, "u6"); st.Status != StatusFailedTimeout {
		t.Errorf("status = %s, want failed_timeout", st.Status)
	}
}

func TestMarkerFanOutZeroExtracted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// 只建 job 行，不建图纸行：ExtractedSheets 返回空
	if err := f.repo.CreateJob(ctx, &metadata.ProcessingJob{
		UploadID: "u7", PlanID: "plan-1", ProjectID: "proj-1", OrganizationID: "org-1",
		Status: metadata.JobPending, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := f.m.Initialize(ctx, "u7", 1, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.m.SheetComplete(ctx, "u7", 1, nil); err != nil {
		t.Fatalf("SheetComplete: %v", err)
	}
	// marker 扇出遇到零行中止报错，状态停在 triggering_markers 等告警兜底
	if _, err := f.m.TileComplete(ctx, "u7", 1); !errors.Is(err, ErrNoExtractedSheets) {
		t.Fatalf("TileComplete: %v", err)
	}
	if st := f.mustState(t, "u7"); st.Status != StatusTriggeringMarkers {
		t.Fatalf("status = %s, want triggering_markers", st.Status)
	}
	if got := f.q.count("plan_markers"); got != 0 {
		t.Errorf("marker jobs = %d, want 0", got)
	}
}

func TestReInitialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u8", []string{"A1"})
	if _, err := f.m.Initialize(ctx, "u8", 1, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 参数一致：幂等成功
	state, err := f.m.Initialize(ctx, "u8", 1, 900000)
	if err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	if state.Status != StatusInProgress {
		t.Errorf("status = %s", state.Status)
	}

	// totalSheets 不一致：报错
	if _, err := f.m.Initialize(ctx, "u8", 2, 900000); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("divergent re-init: %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.m.SheetComplete(ctx, "ghost", 1, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SheetComplete: %v", err)
	}
	if _, err := f.m.TileComplete(ctx, "ghost", 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("TileComplete: %v", err)
	}
	if _, err := f.m.MarkerComplete(ctx, "ghost", 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("MarkerComplete: %v", err)
	}
	if _, err := f.m.GetProgress(ctx, "ghost"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("GetProgress: %v", err)
	}
}

func TestSingleSheetChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u9", []string{"A1"})
	if _, err := f.m.Initialize(ctx, "u9", 1, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.m.SheetComplete(ctx, "u9", 1, nil); err != nil {
		t.Fatalf("SheetComplete: %v", err)
	}
	if _, err := f.m.TileComplete(ctx, "u9", 1); err != nil {
		t.Fatalf("TileComplete: %v", err)
	}
	progress, err := f.m.MarkerComplete(ctx, "u9", 1)
	if err != nil {
		t.Fatalf("MarkerComplete: %v", err)
	}
	if progress.Status != StatusComplete || progress.Percent != 100 {
		t.Errorf("progress = %+v", progress)
	}
}

func TestRedeliveryStorm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u10", []string{"A1", "A2", "A3"})
	if _, err := f.m.Initialize(ctx, "u10", 3, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 每个回执乱序重放多次；终态必须与单次干净运行一致
	sheets := []int{3, 1, 2, 1, 3, 2, 2, 1, 3}
	for _, n := range sheets {
		if _, err := f.m.SheetComplete(ctx, "u10", n, nil); err != nil {
			t.Fatalf("SheetComplete(%d): %v", n, err)
		}
	}
	for _, n := range []int{2, 2, 3, 1, 1, 3} {
		if _, err := f.m.TileComplete(ctx, "u10", n); err != nil {
			t.Fatalf("TileComplete(%d): %v", n, err)
		}
	}
	for _, n := range []int{1, 3, 2, 3, 2, 1} {
		if _, err := f.m.MarkerComplete(ctx, "u10", n); err != nil {
			t.Fatalf("MarkerComplete(%d): %v", n, err)
		}
	}
	// 终态后的迟到回执同样被吸收，不改变状态
	if _, err := f.m.TileComplete(ctx, "u10", 1); err != nil {
		t.Fatalf("late TileComplete: %v", err)
	}

	st := f.mustState(t, "u10")
	if st.Status != StatusComplete {
		t.Fatalf("status = %s", st.Status)
	}
	if got := f.q.count("plan_tiles"); got != 3 {
		t.Errorf("tile jobs = %d, want 3", got)
	}
	if got := f.q.count("plan_markers"); got != 3 {
		t.Errorf("marker jobs = %d, want 3", got)
	}
}

func TestProgressProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u11", []string{"A1", "A2", "A3", "A4"})
	if _, err := f.m.Initialize(ctx, "u11", 4, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for _, n := range []int{3, 1} {
		if _, err := f.m.SheetComplete(ctx, "u11", n, nil); err != nil {
			t.Fatalf("SheetComplete: %v", err)
		}
	}

	p, err := f.m.GetProgress(ctx, "u11")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if p.Percent != 50 {
		t.Errorf("percent = %d, want 50", p.Percent)
	}
	if len(p.CompletedSheets) != 2 || p.CompletedSheets[0] != 1 || p.CompletedSheets[1] != 3 {
		t.Errorf("completedSheets = %v", p.CompletedSheets)
	}
	if p.Status != StatusInProgress {
		t.Errorf("status = %s", p.Status)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	states := NewMemoryStateStore()
	st := NewState("u12", 12, 900000, time.Now())
	_, _ = st.AddSheet(10)
	_, _ = st.AddSheet(2)
	_, _ = st.AddTile(7)
	st.Status = StatusTilesInProgress

	first, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := states.Save(ctx, st, alarmAt(st)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := states.Load(ctx, "u12")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("round trip not byte-equal:\n%s\n%s", first, second)
	}
}

func TestRehydrateArmsAlarms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u13", []string{"A1"})

	// 直接写入一条 wake_at 已过期的非终态记录，模拟重启前遗留
	st := NewState("u13", 1, 50, time.Now().Add(-time.Minute))
	if err := f.states.Save(ctx, st, alarmAt(st)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.m.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return f.mustState(t, "u13").Status == StatusFailedTimeout
	})
}

func TestConcurrentCompletions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const total = 20
	names := make([]string, total)
	for i := range names {
		names[i] = fmt.Sprintf("A%d", i+1)
	}
	f.seedUpload(t, "u15", names)
	if _, err := f.m.Initialize(ctx, "u15", total, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 并发投递全部回执；actor 串行化保证单次扇出
	var wg sync.WaitGroup
	for n := 1; n <= total; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := f.m.SheetComplete(ctx, "u15", n, nil); err != nil {
				t.Errorf("SheetComplete(%d): %v", n, err)
			}
		}(n)
	}
	wg.Wait()

	if got := f.q.count("plan_tiles"); got != total {
		t.Errorf("tile jobs = %d, want %d", got, total)
	}
	if st := f.mustState(t, "u15"); st.Status != StatusTilesInProgress {
		t.Errorf("status = %s", st.Status)
	}
}

func TestOutOfRangeSheetNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUpload(t, "u14", []string{"A1", "A2"})
	if _, err := f.m.Initialize(ctx, "u14", 2, 900000); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := f.m.SheetComplete(ctx, "u14", 3, nil); err == nil {
		t.Error("expected error for out-of-range sheetNumber")
	}
	if _, err := f.m.SheetComplete(ctx, "u14", 0, nil); err == nil {
		t.Error("expected error for sheetNumber 0")
	}
}

// inbox 满时走阻塞投递：pending 计数阻止空闲回收摘除 actor，
// ctx 取消与 Close 都能解除阻塞发送
func TestSubmitBlockedSendUnblocks(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)

	// 首条消息在 fn 内阻塞，占住 actor
	go func() {
		_, _ = f.m.submit(context.Background(), "u-block", "hold", func(context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	sh := f.m.shardFor("u-block")
	waitFor(t, time.Second, func() bool {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		return sh.actors["u-block"] != nil
	})
	sh.mu.Lock()
	a := sh.actors["u-block"]
	sh.mu.Unlock()

	for i := 0; i < inboxSize; i++ {
		go func() {
			_, _ = f.m.submit(context.Background(), "u-block", "noop", func(context.Context) (interface{}, error) {
				return nil, nil
			})
		}()
	}
	waitFor(t, time.Second, func() bool { return len(a.inbox) == inboxSize })

	// inbox 已满：下一条进入阻塞发送，取消后返回且 pending 归零
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.m.submit(ctx, "u-block", "noop", func(context.Context) (interface{}, error) {
			return nil, nil
		})
		done <- err
	}()
	waitFor(t, time.Second, func() bool {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		return a.pending > 0
	})
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked submit did not return after cancel")
	}
	waitFor(t, time.Second, func() bool {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		return a.pending == 0
	})

	// Close 同样解除阻塞发送
	done2 := make(chan error, 1)
	go func() {
		_, err := f.m.submit(context.Background(), "u-block", "noop", func(context.Context) (interface{}, error) {
			return nil, nil
		})
		done2 <- err
	}()
	waitFor(t, time.Second, func() bool {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		return a.pending > 0
	})
	f.m.Close()
	select {
	case err := <-done2:
		if !errors.Is(err, ErrManagerClosed) {
			t.Fatalf("err = %v, want ErrManagerClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked submit did not return after Close")
	}
}
