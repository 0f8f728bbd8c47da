package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/domain"
)

// MemoryCatalog — in-memory каталог.
type MemoryCatalog struct {
	clock func() time.Time

	mu     sync.Mutex
	books  map[uuid.UUID]*MemoryLogBook
	order  []uuid.UUID
	closed bool
}

// NewMemoryCatalog создаёт пустой каталог.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		clock: func() time.Time { return time.Now().UTC() },
		books: make(map[uuid.UUID]*MemoryLogBook),
	}
}

// CreateOrFetch возвращает logbook job'а.
func (c *MemoryCatalog) CreateOrFetch(_ context.Context, jobID uuid.UUID) (LogBook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("catalog: %w", domain.ErrClosed)
	}
	if book, ok := c.books[jobID]; ok {
		return book, nil
	}

	book := newMemoryLogBook(jobID, c.clock)
	c.books[jobID] = book
	c.order = append(c.order, jobID)
	return book, nil
}

// Erase удаляет logbook job'а.
func (c *MemoryCatalog) Erase(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog: %w", domain.ErrClosed)
	}
	if _, ok := c.books[jobID]; !ok {
		return nil
	}
	delete(c.books, jobID)
	for i, id := range c.order {
		if id == jobID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Contains проверяет наличие logbook'а.
func (c *MemoryCatalog) Contains(_ context.Context, jobID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, fmt.Errorf("catalog: %w", domain.ErrClosed)
	}
	_, ok := c.books[jobID]
	return ok, nil
}

// Len возвращает количество logbook'ов.
func (c *MemoryCatalog) Len(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fmt.Errorf("catalog: %w", domain.ErrClosed)
	}
	return len(c.books), nil
}

// Close закрывает каталог и все logbook'и.
func (c *MemoryCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var errs []error
	for _, book := range c.books {
		if err := book.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryLogBook — in-memory logbook.
type MemoryLogBook struct {
	jobID uuid.UUID
	clock func() time.Time

	mu     sync.Mutex
	flows  []*MemoryFlowDetail
	closed bool
}

func newMemoryLogBook(jobID uuid.UUID, clock func() time.Time) *MemoryLogBook {
	return &MemoryLogBook{jobID: jobID, clock: clock}
}

// JobID возвращает ID job'а.
func (b *MemoryLogBook) JobID() uuid.UUID {
	return b.jobID
}

// AddFlow добавляет flow.
func (b *MemoryLogBook) AddFlow(_ context.Context, name string) (FlowDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("logbook: %w", domain.ErrClosed)
	}
	if b.findLocked(name) != nil {
		return nil, fmt.Errorf("flow %q: %w", name, domain.ErrAlreadyExists)
	}

	fd := &MemoryFlowDetail{book: b, name: name}
	b.flows = append(b.flows, fd)
	return fd, nil
}

// Flow возвращает flow по имени.
func (b *MemoryLogBook) Flow(_ context.Context, name string) (FlowDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("logbook: %w", domain.ErrClosed)
	}
	fd := b.findLocked(name)
	if fd == nil {
		return nil, fmt.Errorf("flow %q: %w", name, domain.ErrNotFound)
	}
	return fd, nil
}

// Flows возвращает flow в порядке добавления.
func (b *MemoryLogBook) Flows(_ context.Context) ([]FlowDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("logbook: %w", domain.ErrClosed)
	}
	flows := make([]FlowDetail, len(b.flows))
	for i, fd := range b.flows {
		flows[i] = fd
	}
	return flows, nil
}

// Contains проверяет наличие flow.
func (b *MemoryLogBook) Contains(_ context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, fmt.Errorf("logbook: %w", domain.ErrClosed)
	}
	return b.findLocked(name) != nil, nil
}

// RemoveFlow удаляет flow.
func (b *MemoryLogBook) RemoveFlow(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("logbook: %w", domain.ErrClosed)
	}
	for i, fd := range b.flows {
		if fd.name == name {
			b.flows = append(b.flows[:i], b.flows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("flow %q: %w", name, domain.ErrNotFound)
}

// Len возвращает количество flow.
func (b *MemoryLogBook) Len(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("logbook: %w", domain.ErrClosed)
	}
	return len(b.flows), nil
}

// Close закрывает logbook. Его FlowDetail также перестают принимать операции.
func (b *MemoryLogBook) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryLogBook) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MemoryLogBook) findLocked(name string) *MemoryFlowDetail {
	for _, fd := range b.flows {
		if fd.name == name {
			return fd
		}
	}
	return nil
}

// MemoryFlowDetail — in-memory записи flow.
// Операции отклоняются после закрытия logbook'а.
type MemoryFlowDetail struct {
	book *MemoryLogBook
	name string

	mu    sync.Mutex
	tasks []TaskDetail
}

// Name возвращает имя flow.
func (f *MemoryFlowDetail) Name() string {
	return f.name
}

// AddTask добавляет запись о задаче.
func (f *MemoryFlowDetail) AddTask(_ context.Context, name string, metadata map[string]any) (TaskDetail, error) {
	if f.book.isClosed() {
		return TaskDetail{}, fmt.Errorf("flow detail: %w", domain.ErrClosed)
	}

	td := NewTaskDetail(name, metadata, f.book.clock())

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, td)
	return td, nil
}

// Contains проверяет, есть ли записи с именем name.
func (f *MemoryFlowDetail) Contains(ctx context.Context, name string) (bool, error) {
	tasks, err := f.Tasks(ctx, name)
	if err != nil {
		return false, err
	}
	return len(tasks) > 0, nil
}

// Tasks возвращает все записи с именем name.
func (f *MemoryFlowDetail) Tasks(_ context.Context, name string) ([]TaskDetail, error) {
	if f.book.isClosed() {
		return nil, fmt.Errorf("flow detail: %w", domain.ErrClosed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	matches := make([]TaskDetail, 0)
	for _, td := range f.tasks {
		if td.Name == name {
			matches = append(matches, td)
		}
	}
	return matches, nil
}

// All возвращает все записи в порядке добавления.
func (f *MemoryFlowDetail) All(_ context.Context) ([]TaskDetail, error) {
	if f.book.isClosed() {
		return nil, fmt.Errorf("flow detail: %w", domain.ErrClosed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TaskDetail(nil), f.tasks...), nil
}

// RemoveTasks удаляет все записи с именем name.
func (f *MemoryFlowDetail) RemoveTasks(_ context.Context, name string) error {
	if f.book.isClosed() {
		return fmt.Errorf("flow detail: %w", domain.ErrClosed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.tasks[:0]
	for _, td := range f.tasks {
		if td.Name != name {
			kept = append(kept, td)
		}
	}
	f.tasks = kept
	return nil
}

// Len возвращает количество записей.
func (f *MemoryFlowDetail) Len(_ context.Context) (int, error) {
	if f.book.isClosed() {
		return 0, fmt.Errorf("flow detail: %w", domain.ErrClosed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks), nil
}

// Проверка реализации интерфейсов.
var (
	_ Catalog    = (*MemoryCatalog)(nil)
	_ LogBook    = (*MemoryLogBook)(nil)
	_ FlowDetail = (*MemoryFlowDetail)(nil)
)
