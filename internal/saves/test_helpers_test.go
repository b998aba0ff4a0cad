package saves

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/parser"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testLatestPatchMinor = 243

type stubGateway struct {
	mu          sync.Mutex
	calls       int
	metadata    parser.Metadata
	err         error
	barrier     *callBarrier
	contentHash string
}

func (g *stubGateway) Parse(ctx context.Context, request parser.Request) (parser.Metadata, error) {
	g.mu.Lock()
	g.calls++
	metadata := g.metadata
	err := g.err
	barrier := g.barrier
	contentHash := g.contentHash
	g.mu.Unlock()
	if barrier != nil {
		barrier.arrive()
	}
	if err != nil {
		return parser.Metadata{}, err
	}
	metadata.ContentHash = ContentHash(request.Data)
	if contentHash != "" {
		metadata.ContentHash = contentHash
	}
	return metadata, nil
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// callBarrier releases its callers once the expected number arrived or the
// timeout elapsed.
type callBarrier struct {
	expected int32
	arrived  atomic.Int32
	release  chan struct{}
	once     sync.Once
	timeout  time.Duration
}

func newCallBarrier(expected int) *callBarrier {
	return &callBarrier{expected: int32(expected), release: make(chan struct{}), timeout: 2 * time.Second}
}

func (b *callBarrier) arrive() {
	if b.arrived.Add(1) >= b.expected {
		b.once.Do(func() { close(b.release) })
	}
	select {
	case <-b.release:
	case <-time.After(b.timeout):
	}
}

type sequentialIDs struct {
	next atomic.Int64
}

func (p *sequentialIDs) NewID() (string, error) {
	return fmt.Sprintf("save-%03d", p.next.Add(1)), nil
}

func sampleMetadata() parser.Metadata {
	return parser.Metadata{
		Date:           "1527.2.1",
		RawDays:        30527,
		Patch:          parser.Patch{Major: 1, Minor: 29, Patch: 4, Revision: 0},
		Tag:            "TUR",
		AchievementIDs: []int{18, 42, 18},
		PlaythroughID:  "playthrough-a",
		Difficulty:     "Normal",
		GameName:       "EU4",
	}
}

type testHarness struct {
	service *Service
	db      *gorm.DB
	blobs   *blobstore.FilesystemStore
	gateway *stubGateway
}

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	path := filepath.Join(testContext.TempDir(), "saves.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Save{}, &SaveAchievement{}); err != nil {
		testContext.Fatalf("failed to migrate saves schema: %v", err)
	}
	testContext.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

func newTestHarness(testContext *testing.T, gateway *stubGateway) *testHarness {
	testContext.Helper()
	db := openTestDatabase(testContext)
	blobs := blobstore.NewMemoryStore()
	if gateway == nil {
		gateway = &stubGateway{metadata: sampleMetadata()}
	}
	service, err := NewService(ServiceConfig{
		Database:         db,
		Blobs:            blobs,
		Gateway:          gateway,
		IDProvider:       &sequentialIDs{},
		Clock:            func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		LatestPatchMinor: testLatestPatchMinor,
		MaxUploadBytes:   1024,
		UploadTimeout:    5 * time.Second,
	})
	if err != nil {
		testContext.Fatalf("failed to create service: %v", err)
	}
	return &testHarness{service: service, db: db, blobs: blobs, gateway: gateway}
}

func (h *testHarness) waitForCleanup(testContext *testing.T) {
	testContext.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.service.WaitForCleanup(ctx); err != nil {
		testContext.Fatalf("cleanup did not finish: %v", err)
	}
}

func (h *testHarness) countSaves(testContext *testing.T) int64 {
	testContext.Helper()
	var count int64
	if err := h.db.Model(&Save{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count saves: %v", err)
	}
	return count
}

func (h *testHarness) objectExists(testContext *testing.T, key string) bool {
	testContext.Helper()
	exists, err := h.blobs.Exists(context.Background(), key)
	if err != nil {
		testContext.Fatalf("exists failed for %s: %v", key, err)
	}
	return exists
}

func uploadRequest(userID string, data string) UploadRequest {
	return UploadRequest{
		UserID:   userID,
		Filename: "ita.eu4",
		Notes:    "first run",
		Data:     []byte(data),
	}
}
