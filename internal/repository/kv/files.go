package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/goartstore/vault-module/internal/domain/model"
	"github.com/bigkaa/goartstore/vault-module/internal/repository"
)

// fileDoc - JSON-представление записи файла.
type fileDoc struct {
	ID            string    `json:"id"`
	ContentID     string    `json:"content_id"`
	OwnerID       string    `json:"owner_id"`
	DisplayName   string    `json:"display_name"`
	MimeType      string    `json:"mime_type"`
	ByteSize      int64     `json:"byte_size"`
	Locator       string    `json:"locator"`
	IsPublic      bool      `json:"is_public"`
	DownloadCount int64     `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toFileDoc(f *model.FileRecord) fileDoc {
	return fileDoc(*f)
}

func (d fileDoc) record() *model.FileRecord {
	f := model.FileRecord(d)
	return &f
}

func fileKey(id string) []byte {
	return []byte(prefixFile + id)
}

func contentKey(contentID, id string) []byte {
	return []byte(prefixContent + contentID + "/" + id)
}

func contentPrefix(contentID string) string {
	return prefixContent + contentID + "/"
}

// fileRepo - реализация repository.FileRepository поверх badger.
type fileRepo struct {
	store *Store
}

// NewFileRepository создаёт реестр ссылок поверх badger.
func NewFileRepository(store *Store) repository.FileRepository {
	return &fileRepo{store: store}
}

func getFile(txn *badger.Txn, id string) (*fileDoc, error) {
	item, err := txn.Get(fileKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи файла: %w", err)
	}

	var doc fileDoc
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, fmt.Errorf("ошибка декодирования записи файла %s: %w", id, err)
	}
	return &doc, nil
}

func putFile(txn *badger.Txn, doc *fileDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ошибка кодирования записи файла: %w", err)
	}
	return txn.Set(fileKey(doc.ID), data)
}

// allFiles читает все записи реестра.
func allFiles(txn *badger.Txn) ([]fileDoc, error) {
	var docs []fileDoc
	err := scanPrefix(txn, prefixFile, func(key, val []byte) error {
		var doc fileDoc
		if err := json.Unmarshal(val, &doc); err != nil {
			return fmt.Errorf("ошибка декодирования %s: %w", key, err)
		}
		docs = append(docs, doc)
		return nil
	})
	return docs, err
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = f.CreatedAt

	return r.store.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(f.ID)); err == nil {
			return fmt.Errorf("%w: запись %s", repository.ErrConflict, f.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("ошибка проверки записи файла: %w", err)
		}

		doc := toFileDoc(f)
		if err := putFile(txn, &doc); err != nil {
			return err
		}
		return txn.Set(contentKey(f.ContentID, f.ID), nil)
	})
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	var rec *model.FileRecord
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		doc, err := getFile(txn, id)
		if err != nil {
			return err
		}
		rec = doc.record()
		return nil
	})
	return rec, err
}

func matches(doc *fileDoc, filter repository.FileFilter) bool {
	if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
		return false
	}
	if filter.PublicOnly && !doc.IsPublic {
		return false
	}
	return true
}

func (r *fileRepo) List(ctx context.Context, filter repository.FileFilter, limit, offset int) ([]*model.FileRecord, error) {
	var docs []fileDoc
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		all, err := allFiles(txn)
		if err != nil {
			return err
		}
		for i := range all {
			if matches(&all[i], filter) {
				docs = append(docs, all[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}

	// Новые первыми, при равном времени - по ID
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})

	result := make([]*model.FileRecord, 0)
	if offset >= len(docs) {
		return result, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	for _, d := range docs {
		result = append(result, d.record())
	}
	return result, nil
}

func (r *fileRepo) Count(ctx context.Context, filter repository.FileFilter) (int, error) {
	count := 0
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		all, err := allFiles(txn)
		if err != nil {
			return err
		}
		for i := range all {
			if matches(&all[i], filter) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

// modify читает запись, применяет fn и сохраняет результат в одной транзакции.
func (r *fileRepo) modify(ctx context.Context, id string, fn func(doc *fileDoc)) (*model.FileRecord, error) {
	var rec *model.FileRecord
	err := r.store.update(ctx, func(txn *badger.Txn) error {
		doc, err := getFile(txn, id)
		if err != nil {
			return err
		}
		fn(doc)
		if err := putFile(txn, doc); err != nil {
			return err
		}
		rec = doc.record()
		return nil
	})
	return rec, err
}

func (r *fileRepo) UpdateMetadata(ctx context.Context, id, displayName string, isPublic bool) (*model.FileRecord, error) {
	return r.modify(ctx, id, func(doc *fileDoc) {
		doc.DisplayName = displayName
		doc.IsPublic = isPublic
		doc.UpdatedAt = time.Now().UTC()
	})
}

func (r *fileRepo) IncrementDownloads(ctx context.Context, id string) (*model.FileRecord, error) {
	return r.modify(ctx, id, func(doc *fileDoc) {
		doc.DownloadCount++
	})
}

// RemoveAndCount удаляет запись и считает оставшиеся ссылки в одной
// сериализуемой транзакции. Конкурентное удаление другой ссылки на то же
// содержимое вызывает конфликт, и транзакция повторяется с новым снимком.
func (r *fileRepo) RemoveAndCount(ctx context.Context, id, ownerID string) (*model.FileRecord, int, error) {
	var (
		removed   *model.FileRecord
		remaining int
	)

	err := r.store.update(ctx, func(txn *badger.Txn) error {
		doc, err := getFile(txn, id)
		if err != nil {
			return err
		}
		if ownerID != "" && doc.OwnerID != ownerID {
			return repository.ErrNotFound
		}

		// Счёт до удаления включает саму запись
		refs := countPrefix(txn, contentPrefix(doc.ContentID))

		if err := txn.Delete(fileKey(id)); err != nil {
			return fmt.Errorf("ошибка удаления записи файла: %w", err)
		}
		if err := txn.Delete(contentKey(doc.ContentID, id)); err != nil {
			return fmt.Errorf("ошибка удаления индекса ссылок: %w", err)
		}

		removed = doc.record()
		remaining = max(refs-1, 0)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return removed, remaining, nil
}

func (r *fileRepo) CountReferences(ctx context.Context, contentID, excludingID string) (int, error) {
	count := 0
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		count = countPrefix(txn, contentPrefix(contentID))
		if excludingID != "" {
			if _, err := txn.Get(contentKey(contentID, excludingID)); err == nil {
				count--
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта ссылок: %w", err)
	}
	return count, nil
}

// contentAgg - промежуточный агрегат по content id.
type contentAgg struct {
	refs    int
	size    int64
	locator string
}

// ledgerAgg - агрегаты реестра, собранные за один проход одного снимка.
type ledgerAgg struct {
	contents map[string]*contentAgg
	owners   map[string]int
	records  int
	logical  int64
}

// aggregate читает все записи в одной транзакции и группирует их
// по содержимому и владельцам.
func (r *fileRepo) aggregate(ctx context.Context) (*ledgerAgg, error) {
	var docs []fileDoc
	err := r.store.view(ctx, func(txn *badger.Txn) error {
		var err error
		docs, err = allFiles(txn)
		return err
	})
	if err != nil {
		return nil, err
	}

	agg := &ledgerAgg{
		contents: make(map[string]*contentAgg),
		owners:   make(map[string]int),
		records:  len(docs),
	}
	for _, d := range docs {
		c, ok := agg.contents[d.ContentID]
		if !ok {
			c = &contentAgg{size: d.ByteSize, locator: d.Locator}
			agg.contents[d.ContentID] = c
		}
		c.refs++
		c.size = max(c.size, d.ByteSize)
		if d.Locator < c.locator {
			c.locator = d.Locator
		}
		agg.owners[d.OwnerID]++
		agg.logical += d.ByteSize
	}
	return agg, nil
}

func (a *ledgerAgg) totals() *model.LedgerTotals {
	t := &model.LedgerTotals{
		LogicalSize:    a.logical,
		Records:        a.records,
		UniqueContents: len(a.contents),
	}
	for _, c := range a.contents {
		t.PhysicalSize += c.size
	}
	return t
}

func (a *ledgerAgg) contentGroups(limit int) []model.ContentGroup {
	groups := make([]model.ContentGroup, 0, len(a.contents))
	for id, c := range a.contents {
		groups = append(groups, model.ContentGroup{
			ContentID:  id,
			References: c.refs,
			ByteSize:   c.size,
			Locator:    c.locator,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].References != groups[j].References {
			return groups[i].References > groups[j].References
		}
		return groups[i].ContentID < groups[j].ContentID
	})

	if limit > 0 && limit < len(groups) {
		groups = groups[:limit]
	}
	return groups
}

func (a *ledgerAgg) ownerGroups(limit int) []model.OwnerGroup {
	groups := make([]model.OwnerGroup, 0, len(a.owners))
	for id, files := range a.owners {
		groups = append(groups, model.OwnerGroup{OwnerID: id, Files: files})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Files != groups[j].Files {
			return groups[i].Files > groups[j].Files
		}
		return groups[i].OwnerID < groups[j].OwnerID
	})

	if limit > 0 && limit < len(groups) {
		groups = groups[:limit]
	}
	return groups
}

func (r *fileRepo) Totals(ctx context.Context) (*model.LedgerTotals, error) {
	agg, err := r.aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта объёма реестра: %w", err)
	}
	return agg.totals(), nil
}

func (r *fileRepo) ContentGroups(ctx context.Context, limit int) ([]model.ContentGroup, error) {
	agg, err := r.aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка группировки по содержимому: %w", err)
	}
	return agg.contentGroups(limit), nil
}

func (r *fileRepo) OwnerGroups(ctx context.Context, limit int) ([]model.OwnerGroup, error) {
	agg, err := r.aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка группировки по владельцам: %w", err)
	}
	return agg.ownerGroups(limit), nil
}

// Snapshot - итоги и лидеры из одного прохода по одному снимку.
func (r *fileRepo) Snapshot(ctx context.Context) (*model.LedgerSnapshot, error) {
	agg, err := r.aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения снимка реестра: %w", err)
	}

	snap := &model.LedgerSnapshot{Totals: *agg.totals()}
	if top := agg.contentGroups(1); len(top) > 0 {
		snap.TopContent = &top[0]
	}
	if top := agg.ownerGroups(1); len(top) > 0 {
		snap.TopOwner = &top[0]
	}
	return snap, nil
}

func (r *fileRepo) OwnerUsage(ctx context.Context, ownerID string) (*model.OwnerUsage, error) {
	u := &model.OwnerUsage{}
	seen := make(map[string]bool)

	err := r.store.view(ctx, func(txn *badger.Txn) error {
		docs, err := allFiles(txn)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if d.OwnerID != ownerID {
				continue
			}
			u.Files++
			u.LogicalSize += d.ByteSize
			u.Downloads += d.DownloadCount
			if d.IsPublic {
				u.PublicFiles++
			}
			if !seen[d.ContentID] {
				seen[d.ContentID] = true
				u.PhysicalSize += d.ByteSize
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта потребления владельца: %w", err)
	}
	return u, nil
}
