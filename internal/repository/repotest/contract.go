// Пакет repotest - общие проверки реализаций repository.FileRepository
// и repository.UserRepository (PostgreSQL и badger).
package repotest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
)

// Content id для тестов: различные 64-символьные hex-строки.
var (
	ContentA = strings.Repeat("a", 64)
	ContentB = strings.Repeat("b", 64)
	ContentC = strings.Repeat("c", 64)
)

// NewRecord создаёт запись файла с новым UUID.
func NewRecord(contentID, ownerID string, size int64) *model.FileRecord {
	return &model.FileRecord{
		ID:          uuid.New().String(),
		ContentID:   contentID,
		OwnerID:     ownerID,
		DisplayName: "file-" + contentID[:4] + ".txt",
		MimeType:    "text/plain",
		ByteSize:    size,
		Locator:     "file:///blobs/" + contentID,
	}
}

// MustCreate сохраняет записи и завершает тест при ошибке.
func MustCreate(t *testing.T, repo repository.FileRepository, recs ...*model.FileRecord) {
	t.Helper()
	for _, rec := range recs {
		if err := repo.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create(%s) ошибка: %v", rec.ID, err)
		}
	}
}

// RunFileRepository выполняет общие проверки реестра ссылок.
// newRepo должен возвращать пустой реестр.
func RunFileRepository(t *testing.T, newRepo func(t *testing.T) repository.FileRepository) {
	t.Run("CRUD", func(t *testing.T) { testFileCRUD(t, newRepo(t)) })
	t.Run("List", func(t *testing.T) { testFileList(t, newRepo(t)) })
	t.Run("RemoveAndCount", func(t *testing.T) { testRemoveAndCount(t, newRepo(t)) })
	t.Run("ConcurrentRemove", func(t *testing.T) { testConcurrentRemove(t, newRepo(t)) })
	t.Run("ConcurrentDownloads", func(t *testing.T) { testConcurrentDownloads(t, newRepo(t)) })
	t.Run("Aggregates", func(t *testing.T) { testAggregates(t, newRepo(t)) })
	t.Run("EmptyAggregates", func(t *testing.T) { testEmptyAggregates(t, newRepo(t)) })
	t.Run("SnapshotUnderRemove", func(t *testing.T) { testSnapshotUnderRemove(t, newRepo(t)) })
}

func testFileCRUD(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	rec := NewRecord(ContentA, "alice", 5)
	MustCreate(t, repo, rec)
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Повторный Create с тем же ID - конфликт
	dup := *rec
	if err := repo.Create(ctx, &dup); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("повторный Create = %v, ожидался ErrConflict", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.ContentID != ContentA || got.OwnerID != "alice" || got.ByteSize != 5 {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.IsPublic || got.DownloadCount != 0 {
		t.Errorf("новая запись: IsPublic=%v, DownloadCount=%d", got.IsPublic, got.DownloadCount)
	}

	updated, err := repo.UpdateMetadata(ctx, rec.ID, "renamed.txt", true)
	if err != nil {
		t.Fatalf("UpdateMetadata() ошибка: %v", err)
	}
	if updated.DisplayName != "renamed.txt" || !updated.IsPublic {
		t.Errorf("после UpdateMetadata: %+v", updated)
	}
	if updated.ContentID != ContentA || updated.MimeType != "text/plain" {
		t.Errorf("UpdateMetadata изменил неизменяемые поля: %+v", updated)
	}

	missing := uuid.New().String()
	if _, err := repo.GetByID(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetByID(missing) = %v, ожидался ErrNotFound", err)
	}
	if _, err := repo.UpdateMetadata(ctx, missing, "x", false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateMetadata(missing) = %v, ожидался ErrNotFound", err)
	}
	if _, err := repo.IncrementDownloads(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("IncrementDownloads(missing) = %v, ожидался ErrNotFound", err)
	}
}

func testFileList(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	a1 := NewRecord(ContentA, "alice", 5)
	a2 := NewRecord(ContentB, "alice", 7)
	b1 := NewRecord(ContentA, "bob", 5)
	MustCreate(t, repo, a1, a2, b1)
	if _, err := repo.UpdateMetadata(ctx, b1.ID, b1.DisplayName, true); err != nil {
		t.Fatalf("UpdateMetadata() ошибка: %v", err)
	}

	tests := []struct {
		name   string
		filter repository.FileFilter
		want   int
	}{
		{"все записи", repository.FileFilter{}, 3},
		{"записи владельца", repository.FileFilter{OwnerID: "alice"}, 2},
		{"публичные", repository.FileFilter{PublicOnly: true}, 1},
		{"публичные владельца", repository.FileFilter{OwnerID: "alice", PublicOnly: true}, 0},
		{"неизвестный владелец", repository.FileFilter{OwnerID: "carol"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.List(ctx, tt.filter, 10, 0)
			if err != nil {
				t.Fatalf("List() ошибка: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("List() вернул %d записей, ожидалось %d", len(list), tt.want)
			}
			count, err := repo.Count(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Count() ошибка: %v", err)
			}
			if count != tt.want {
				t.Errorf("Count() = %d, ожидалось %d", count, tt.want)
			}
		})
	}

	// Новые первыми
	list, err := repo.List(ctx, repository.FileFilter{OwnerID: "alice"}, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) == 2 && list[0].ID != a2.ID {
		t.Errorf("List()[0] = %s, ожидалась последняя загрузка %s", list[0].ID, a2.ID)
	}

	// Пагинация
	page, err := repo.List(ctx, repository.FileFilter{}, 2, 2)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("вторая страница: %d записей, ожидалась 1", len(page))
	}
}

func testRemoveAndCount(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	a := NewRecord(ContentA, "alice", 5)
	b := NewRecord(ContentA, "bob", 5)
	MustCreate(t, repo, a, b)

	refs, err := repo.CountReferences(ctx, ContentA, a.ID)
	if err != nil {
		t.Fatalf("CountReferences() ошибка: %v", err)
	}
	if refs != 1 {
		t.Errorf("CountReferences(excluding A) = %d, ожидалась 1", refs)
	}
	refs, _ = repo.CountReferences(ctx, ContentA, "")
	if refs != 2 {
		t.Errorf("CountReferences() = %d, ожидалось 2", refs)
	}

	// Чужой владелец не может удалить запись
	if _, _, err := repo.RemoveAndCount(ctx, a.ID, "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("RemoveAndCount(чужой) = %v, ожидался ErrNotFound", err)
	}

	removed, remaining, err := repo.RemoveAndCount(ctx, a.ID, "alice")
	if err != nil {
		t.Fatalf("RemoveAndCount(A) ошибка: %v", err)
	}
	if removed.ID != a.ID || remaining != 1 {
		t.Errorf("RemoveAndCount(A) = %s, %d; ожидалось %s, 1", removed.ID, remaining, a.ID)
	}

	// Повторное удаление - NotFound
	if _, _, err := repo.RemoveAndCount(ctx, a.ID, "alice"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("повторный RemoveAndCount = %v, ожидался ErrNotFound", err)
	}

	_, remaining, err = repo.RemoveAndCount(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("RemoveAndCount(B) ошибка: %v", err)
	}
	if remaining != 0 {
		t.Errorf("RemoveAndCount(B) remaining = %d, ожидался 0", remaining)
	}
}

func testConcurrentRemove(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	const n = 8
	recs := make([]*model.FileRecord, n)
	for i := range recs {
		recs[i] = NewRecord(ContentB, "alice", 9)
	}
	MustCreate(t, repo, recs...)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		zeros int
	)
	for _, rec := range recs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, remaining, err := repo.RemoveAndCount(ctx, id, "alice")
			if err != nil {
				t.Errorf("RemoveAndCount(%s) ошибка: %v", id, err)
				return
			}
			if remaining == 0 {
				mu.Lock()
				zeros++
				mu.Unlock()
			}
		}(rec.ID)
	}
	wg.Wait()

	if zeros != 1 {
		t.Errorf("remaining == 0 получено %d раз, ожидалось ровно 1", zeros)
	}
}

func testConcurrentDownloads(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	rec := NewRecord(ContentC, "alice", 3)
	MustCreate(t, repo, rec)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementDownloads(ctx, rec.ID); err != nil {
				t.Errorf("IncrementDownloads() ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.DownloadCount != n {
		t.Errorf("DownloadCount = %d, ожидалось %d", got.DownloadCount, n)
	}
}

func testAggregates(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	// A: 2 ссылки (alice, bob), B: 2 ссылки (bob, carol), C: 1 ссылка (alice)
	pub := NewRecord(ContentC, "alice", 3)
	MustCreate(t, repo,
		NewRecord(ContentB, "bob", 7),
		NewRecord(ContentA, "alice", 5),
		NewRecord(ContentB, "carol", 7),
		NewRecord(ContentA, "bob", 5),
		pub,
	)
	if _, err := repo.UpdateMetadata(ctx, pub.ID, pub.DisplayName, true); err != nil {
		t.Fatalf("UpdateMetadata() ошибка: %v", err)
	}
	if _, err := repo.IncrementDownloads(ctx, pub.ID); err != nil {
		t.Fatalf("IncrementDownloads() ошибка: %v", err)
	}

	totals, err := repo.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals() ошибка: %v", err)
	}
	want := model.LedgerTotals{LogicalSize: 27, PhysicalSize: 15, Records: 5, UniqueContents: 3}
	if *totals != want {
		t.Errorf("Totals() = %+v, ожидалось %+v", *totals, want)
	}

	groups, err := repo.ContentGroups(ctx, 0)
	if err != nil {
		t.Fatalf("ContentGroups() ошибка: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("ContentGroups() вернул %d групп, ожидалось 3", len(groups))
	}
	// Равное количество ссылок: меньший content id первым
	if groups[0].ContentID != ContentA || groups[0].References != 2 || groups[0].ByteSize != 5 {
		t.Errorf("ContentGroups()[0] = %+v, ожидалась группа A с 2 ссылками", groups[0])
	}
	if groups[1].ContentID != ContentB || groups[2].ContentID != ContentC {
		t.Errorf("порядок групп: %s, %s", groups[1].ContentID[:1], groups[2].ContentID[:1])
	}

	top, err := repo.ContentGroups(ctx, 1)
	if err != nil {
		t.Fatalf("ContentGroups(1) ошибка: %v", err)
	}
	if len(top) != 1 || top[0].ContentID != ContentA {
		t.Errorf("ContentGroups(1) = %+v", top)
	}

	owners, err := repo.OwnerGroups(ctx, 0)
	if err != nil {
		t.Fatalf("OwnerGroups() ошибка: %v", err)
	}
	// alice: 2, bob: 2, carol: 1
	if len(owners) != 3 || owners[0].OwnerID != "alice" || owners[0].Files != 2 ||
		owners[1].OwnerID != "bob" || owners[2].OwnerID != "carol" {
		t.Errorf("OwnerGroups() = %+v", owners)
	}

	snap, err := repo.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() ошибка: %v", err)
	}
	if snap.Totals != want {
		t.Errorf("Snapshot().Totals = %+v, ожидалось %+v", snap.Totals, want)
	}
	if snap.TopContent == nil || *snap.TopContent != top[0] {
		t.Errorf("Snapshot().TopContent = %+v, ожидалось %+v", snap.TopContent, top[0])
	}
	if snap.TopOwner == nil || *snap.TopOwner != owners[0] {
		t.Errorf("Snapshot().TopOwner = %+v, ожидалось %+v", snap.TopOwner, owners[0])
	}

	usage, err := repo.OwnerUsage(ctx, "alice")
	if err != nil {
		t.Fatalf("OwnerUsage() ошибка: %v", err)
	}
	wantUsage := model.OwnerUsage{LogicalSize: 8, PhysicalSize: 8, Downloads: 1, PublicFiles: 1, Files: 2}
	if *usage != wantUsage {
		t.Errorf("OwnerUsage(alice) = %+v, ожидалось %+v", *usage, wantUsage)
	}
}

func testEmptyAggregates(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	totals, err := repo.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals() ошибка: %v", err)
	}
	if *totals != (model.LedgerTotals{}) {
		t.Errorf("Totals() пустого реестра = %+v", *totals)
	}

	groups, err := repo.ContentGroups(ctx, 1)
	if err != nil {
		t.Fatalf("ContentGroups() ошибка: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("ContentGroups() пустого реестра = %+v", groups)
	}

	owners, err := repo.OwnerGroups(ctx, 1)
	if err != nil {
		t.Fatalf("OwnerGroups() ошибка: %v", err)
	}
	if len(owners) != 0 {
		t.Errorf("OwnerGroups() пустого реестра = %+v", owners)
	}

	snap, err := repo.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() ошибка: %v", err)
	}
	if snap.Totals != (model.LedgerTotals{}) || snap.TopContent != nil || snap.TopOwner != nil {
		t.Errorf("Snapshot() пустого реестра = %+v", snap)
	}

	usage, err := repo.OwnerUsage(ctx, "nobody")
	if err != nil {
		t.Fatalf("OwnerUsage() ошибка: %v", err)
	}
	if *usage != (model.OwnerUsage{}) {
		t.Errorf("OwnerUsage() неизвестного владельца = %+v", *usage)
	}
}

// testSnapshotUnderRemove проверяет, что снимок согласован при
// конкурентных удалениях: лидеры не переживают свои записи.
func testSnapshotUnderRemove(t *testing.T, repo repository.FileRepository) {
	ctx := context.Background()

	const n = 12
	recs := make([]*model.FileRecord, n)
	for i := range recs {
		owner := "alice"
		if i%3 == 0 {
			owner = "bob"
		}
		recs[i] = NewRecord(ContentA, owner, 4)
	}
	MustCreate(t, repo, recs...)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for _, rec := range recs {
			if _, _, err := repo.RemoveAndCount(ctx, rec.ID, ""); err != nil {
				t.Errorf("RemoveAndCount(%s) ошибка: %v", rec.ID, err)
				return
			}
		}
	}()

	check := func(snap *model.LedgerSnapshot) {
		records := snap.Totals.Records
		if (records == 0) != (snap.TopOwner == nil) || (records == 0) != (snap.TopContent == nil) {
			t.Errorf("несогласованный снимок: %d записей, лидеры %+v / %+v",
				records, snap.TopContent, snap.TopOwner)
			return
		}
		if records == 0 {
			return
		}
		if snap.TopContent.References != records {
			t.Errorf("TopContent.References = %d, записей %d", snap.TopContent.References, records)
		}
		if snap.TopOwner.Files > records {
			t.Errorf("TopOwner.Files = %d больше числа записей %d", snap.TopOwner.Files, records)
		}
		if snap.Totals.LogicalSize != int64(records)*4 {
			t.Errorf("LogicalSize = %d при %d записях", snap.Totals.LogicalSize, records)
		}
	}

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		snap, err := repo.Snapshot(ctx)
		if err != nil {
			t.Errorf("Snapshot() ошибка: %v", err)
			break
		}
		check(snap)
	}
	wg.Wait()
}

// RunUserRepository выполняет общие проверки каталога пользователей.
func RunUserRepository(t *testing.T, repo repository.UserRepository) {
	ctx := context.Background()

	u := &model.User{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: model.RoleUser}
	if err := repo.Upsert(ctx, u); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	if u.CreatedAt.IsZero() || u.LastSeenAt.IsZero() {
		t.Error("CreatedAt / LastSeenAt не установлены")
	}
	created := u.CreatedAt

	// Повторный upsert обновляет данные, но не создаёт нового пользователя
	again := &model.User{ID: "alice", Name: "Alice L.", Email: "alice@example.com", Role: model.RoleAdmin}
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("повторный Upsert() ошибка: %v", err)
	}
	if !again.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt изменился: %v → %v", created, again.CreatedAt)
	}

	if err := repo.Upsert(ctx, &model.User{ID: "bob", Role: model.RoleUser}); err != nil {
		t.Fatalf("Upsert(bob) ошибка: %v", err)
	}

	got, err := repo.GetByID(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Name != "Alice L." || got.Role != model.RoleAdmin {
		t.Errorf("GetByID() = %+v", got)
	}

	if _, err := repo.GetByID(ctx, "carol"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetByID(carol) = %v, ожидался ErrNotFound", err)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, ожидалось 2", count)
	}

	list, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 || list[0].ID != "alice" {
		t.Errorf("List() = %d записей, первая %v", len(list), list)
	}
}
