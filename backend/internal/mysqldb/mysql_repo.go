package mysqldb

import (
	"context"
	"errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	jsoniter "github.com/json-iterator/go"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/repo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MySQL 主键冲突
const errDuplicateEntry = 1062

func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&entity.PageRecord{}, &entity.MetadataRecord{})
}

func isDuplicate(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

type mysqlPageRepo struct {
	db *gorm.DB
}

func NewPageRepo(db *gorm.DB) repo.PageRepo {
	return &mysqlPageRepo{db: db}
}

func (r *mysqlPageRepo) GetPage(ctx context.Context, pageID string) (entity.Page, error) {
	var rec entity.PageRecord
	err := r.db.WithContext(ctx).Where("page_id = ?", pageID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}
	var page entity.Page
	if err := json.Unmarshal(rec.Blocks, &page); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *mysqlPageRepo) CreatePage(ctx context.Context, docID, pageID string, page entity.Page) error {
	b, err := json.Marshal(page)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Create(&entity.PageRecord{PageID: pageID, DocID: docID, Blocks: b}).Error
	if err != nil {
		// 页面内容寻址，同 ID 同内容，重复插入直接视为成功
		if isDuplicate(err) {
			return nil
		}
		return err
	}
	return nil
}

type mysqlMetadataRepo struct {
	db *gorm.DB
}

func NewMetadataRepo(db *gorm.DB) repo.MetadataRepo {
	return &mysqlMetadataRepo{db: db}
}

func toRecord(docID string, meta entity.DocumentMetadata) (entity.MetadataRecord, error) {
	ids := meta.PageIDs
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return entity.MetadataRecord{}, err
	}
	return entity.MetadataRecord{
		DocID:        docID,
		PageIDs:      b,
		Revision:     meta.Revision,
		CaretAt:      meta.CaretAt,
		LastModified: meta.LastModified.UTC(),
	}, nil
}

func fromRecord(rec entity.MetadataRecord) (entity.DocumentMetadata, error) {
	var ids []string
	if err := json.Unmarshal(rec.PageIDs, &ids); err != nil {
		return entity.DocumentMetadata{}, errors.Join(entity.ErrMalformedMetadata, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return entity.DocumentMetadata{
		PageIDs:      ids,
		Revision:     rec.Revision,
		CaretAt:      rec.CaretAt,
		LastModified: rec.LastModified.UTC(),
	}, nil
}

func (r *mysqlMetadataRepo) GetMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error) {
	var rec entity.MetadataRecord
	err := r.db.WithContext(ctx).Where("doc_id = ?", docID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.DocumentMetadata{}, entity.ErrNotFound
		}
		return entity.DocumentMetadata{}, err
	}
	return fromRecord(rec)
}

func (r *mysqlMetadataRepo) CompareAndSwap(ctx context.Context, docID string, expected uint64, next entity.DocumentMetadata) (entity.DocumentMetadata, bool, error) {
	next.Revision = expected + 1
	if next.LastModified.IsZero() {
		next.LastModified = time.Now()
	}
	rec, err := toRecord(docID, next)
	if err != nil {
		return entity.DocumentMetadata{}, false, err
	}

	// 条件更新：只有 revision 仍是 expected 时才会命中一行
	res := r.db.WithContext(ctx).Model(&entity.MetadataRecord{}).
		Where("doc_id = ? AND revision = ?", docID, expected).
		Updates(map[string]any{
			"page_ids":      rec.PageIDs,
			"revision":      rec.Revision,
			"caret_at":      rec.CaretAt,
			"last_modified": rec.LastModified,
		})
	if res.Error != nil {
		return entity.DocumentMetadata{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		out, err := fromRecord(rec)
		return out, err == nil, err
	}

	cur, err := r.GetMetadata(ctx, docID)
	if errors.Is(err, entity.ErrNotFound) {
		if expected != 0 {
			return entity.DefaultMetadata(), false, nil
		}
		// 第一次提交：文档还没有元数据，直接插入 revision 1
		if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
			if !isDuplicate(err) {
				return entity.DocumentMetadata{}, false, err
			}
			// 并发的另一个写入者先插入了
			cur, err = r.GetMetadata(ctx, docID)
			return cur, false, err
		}
		out, err := fromRecord(rec)
		return out, err == nil, err
	}
	if err != nil {
		return entity.DocumentMetadata{}, false, err
	}
	return cur, false, nil
}

func (r *mysqlMetadataRepo) InitMetadata(ctx context.Context, docID string, defaults entity.DocumentMetadata) (entity.DocumentMetadata, error) {
	rec, err := toRecord(docID, defaults)
	if err != nil {
		return entity.DocumentMetadata{}, err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return entity.DocumentMetadata{}, err
	}
	return r.GetMetadata(ctx, docID)
}
