package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/domain"
)

// Catalog — catalog.Catalog в PostgreSQL.
//
// Logbook — строка logbooks, flow — flow_details,
// записи задач — task_details. Удаление logbook каскадное.
type Catalog struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewCatalog создаёт каталог.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// CreateOrFetch возвращает logbook job'а, создавая его при отсутствии.
func (c *Catalog) CreateOrFetch(ctx context.Context, jobID uuid.UUID) (catalog.LogBook, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("create logbook: %w", domain.ErrClosed)
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO logbooks (job_id) VALUES ($1)
		ON CONFLICT (job_id) DO NOTHING
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("insert logbook: %w", err)
	}
	return &LogBook{pool: c.pool, jobID: jobID, catalog: c}, nil
}

// Erase удаляет logbook вместе с flow и записями задач.
func (c *Catalog) Erase(ctx context.Context, jobID uuid.UUID) error {
	if c.closed.Load() {
		return fmt.Errorf("erase logbook: %w", domain.ErrClosed)
	}
	if _, err := c.pool.Exec(ctx, `DELETE FROM logbooks WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete logbook: %w", err)
	}
	return nil
}

// Contains проверяет наличие logbook'а.
func (c *Catalog) Contains(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if c.closed.Load() {
		return false, fmt.Errorf("contains: %w", domain.ErrClosed)
	}
	var exists bool
	err := c.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM logbooks WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query logbook: %w", err)
	}
	return exists, nil
}

// Len возвращает количество logbook'ов.
func (c *Catalog) Len(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("len: %w", domain.ErrClosed)
	}
	return count(ctx, c.pool, `SELECT COUNT(*) FROM logbooks`)
}

// Close закрывает каталог и все выданные им logbook'и.
func (c *Catalog) Close() error {
	c.closed.Store(true)
	return nil
}

// LogBook — logbook job'а в PostgreSQL.
type LogBook struct {
	pool    *pgxpool.Pool
	jobID   uuid.UUID
	catalog *Catalog
	closed  atomic.Bool
}

func (b *LogBook) isClosed() bool {
	return b.closed.Load() || b.catalog.closed.Load()
}

// JobID возвращает ID job'а.
func (b *LogBook) JobID() uuid.UUID {
	return b.jobID
}

// AddFlow добавляет flow.
func (b *LogBook) AddFlow(ctx context.Context, name string) (catalog.FlowDetail, error) {
	if b.isClosed() {
		return nil, fmt.Errorf("add flow: %w", domain.ErrClosed)
	}
	id := uuid.New()
	_, err := b.pool.Exec(ctx, `
		INSERT INTO flow_details (id, job_id, name) VALUES ($1, $2, $3)
	`, id, b.jobID, name)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("flow %q: %w", name, ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("insert flow: %w", err)
	}
	return &FlowDetail{id: id, name: name, book: b}, nil
}

// Flow возвращает flow по имени.
func (b *LogBook) Flow(ctx context.Context, name string) (catalog.FlowDetail, error) {
	if b.isClosed() {
		return nil, fmt.Errorf("flow: %w", domain.ErrClosed)
	}
	var id uuid.UUID
	err := b.pool.QueryRow(ctx, `
		SELECT id FROM flow_details WHERE job_id = $1 AND name = $2
	`, b.jobID, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("flow %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query flow: %w", err)
	}
	return &FlowDetail{id: id, name: name, book: b}, nil
}

// Flows возвращает flow в порядке добавления.
func (b *LogBook) Flows(ctx context.Context) ([]catalog.FlowDetail, error) {
	if b.isClosed() {
		return nil, fmt.Errorf("flows: %w", domain.ErrClosed)
	}
	rows, err := b.pool.Query(ctx, `
		SELECT id, name FROM flow_details WHERE job_id = $1 ORDER BY seq ASC
	`, b.jobID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []catalog.FlowDetail
	for rows.Next() {
		fd := &FlowDetail{book: b}
		if err := rows.Scan(&fd.id, &fd.name); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, fd)
	}
	return flows, rows.Err()
}

// Contains проверяет наличие flow.
func (b *LogBook) Contains(ctx context.Context, name string) (bool, error) {
	if b.isClosed() {
		return false, fmt.Errorf("contains: %w", domain.ErrClosed)
	}
	var exists bool
	err := b.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM flow_details WHERE job_id = $1 AND name = $2)
	`, b.jobID, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query flow: %w", err)
	}
	return exists, nil
}

// RemoveFlow удаляет flow.
func (b *LogBook) RemoveFlow(ctx context.Context, name string) error {
	if b.isClosed() {
		return fmt.Errorf("remove flow: %w", domain.ErrClosed)
	}
	result, err := b.pool.Exec(ctx, `
		DELETE FROM flow_details WHERE job_id = $1 AND name = $2
	`, b.jobID, name)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("flow %q: %w", name, ErrNotFound)
	}
	return nil
}

// Len возвращает количество flow.
func (b *LogBook) Len(ctx context.Context) (int, error) {
	if b.isClosed() {
		return 0, fmt.Errorf("len: %w", domain.ErrClosed)
	}
	return count(ctx, b.pool, `SELECT COUNT(*) FROM flow_details WHERE job_id = $1`, b.jobID)
}

// Close закрывает logbook.
func (b *LogBook) Close() error {
	b.closed.Store(true)
	return nil
}

// FlowDetail — flow logbook'а в PostgreSQL.
type FlowDetail struct {
	id   uuid.UUID
	name string
	book *LogBook
}

// Name возвращает имя flow.
func (f *FlowDetail) Name() string {
	return f.name
}

// AddTask добавляет запись о задаче.
func (f *FlowDetail) AddTask(ctx context.Context, name string, metadata map[string]any) (catalog.TaskDetail, error) {
	if f.book.isClosed() {
		return catalog.TaskDetail{}, fmt.Errorf("add task: %w", domain.ErrClosed)
	}
	td := catalog.NewTaskDetail(name, metadata, time.Now().UTC())

	metaJSON, err := json.Marshal(td.Metadata)
	if err != nil {
		return catalog.TaskDetail{}, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = f.book.pool.Exec(ctx, `
		INSERT INTO task_details (id, flow_id, name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, td.ID, f.id, td.Name, metaJSON, td.CreatedAt)
	if err != nil {
		return catalog.TaskDetail{}, fmt.Errorf("insert task detail: %w", err)
	}
	return td, nil
}

// Contains проверяет, есть ли записи с именем name.
func (f *FlowDetail) Contains(ctx context.Context, name string) (bool, error) {
	if f.book.isClosed() {
		return false, fmt.Errorf("contains: %w", domain.ErrClosed)
	}
	var exists bool
	err := f.book.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM task_details WHERE flow_id = $1 AND name = $2)
	`, f.id, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query task detail: %w", err)
	}
	return exists, nil
}

// Tasks возвращает записи с именем name.
func (f *FlowDetail) Tasks(ctx context.Context, name string) ([]catalog.TaskDetail, error) {
	return f.listTasks(ctx, `
		SELECT id, name, metadata, created_at FROM task_details
		WHERE flow_id = $1 AND name = $2
		ORDER BY seq ASC
	`, f.id, name)
}

// All возвращает все записи flow.
func (f *FlowDetail) All(ctx context.Context) ([]catalog.TaskDetail, error) {
	return f.listTasks(ctx, `
		SELECT id, name, metadata, created_at FROM task_details
		WHERE flow_id = $1
		ORDER BY seq ASC
	`, f.id)
}

func (f *FlowDetail) listTasks(ctx context.Context, query string, args ...any) ([]catalog.TaskDetail, error) {
	if f.book.isClosed() {
		return nil, fmt.Errorf("list tasks: %w", domain.ErrClosed)
	}
	rows, err := f.book.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task details: %w", err)
	}
	defer rows.Close()

	var details []catalog.TaskDetail
	for rows.Next() {
		var td catalog.TaskDetail
		var metaJSON []byte
		if err := rows.Scan(&td.ID, &td.Name, &metaJSON, &td.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task detail: %w", err)
		}
		if len(metaJSON) > 0 && string(metaJSON) != "null" {
			if err := json.Unmarshal(metaJSON, &td.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		details = append(details, td)
	}
	return details, rows.Err()
}

// RemoveTasks удаляет все записи с именем name.
func (f *FlowDetail) RemoveTasks(ctx context.Context, name string) error {
	if f.book.isClosed() {
		return fmt.Errorf("remove tasks: %w", domain.ErrClosed)
	}
	if _, err := f.book.pool.Exec(ctx, `
		DELETE FROM task_details WHERE flow_id = $1 AND name = $2
	`, f.id, name); err != nil {
		return fmt.Errorf("delete task details: %w", err)
	}
	return nil
}

// Len возвращает количество записей.
func (f *FlowDetail) Len(ctx context.Context) (int, error) {
	if f.book.isClosed() {
		return 0, fmt.Errorf("len: %w", domain.ErrClosed)
	}
	return count(ctx, f.book.pool, `SELECT COUNT(*) FROM task_details WHERE flow_id = $1`, f.id)
}

func count(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) (int, error) {
	var n int
	if err := pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Проверка реализации интерфейсов.
var (
	_ catalog.Catalog    = (*Catalog)(nil)
	_ catalog.LogBook    = (*LogBook)(nil)
	_ catalog.FlowDetail = (*FlowDetail)(nil)
)
