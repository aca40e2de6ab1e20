package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type txKey struct{}

// txJournal накапливает компенсирующие действия текущей транзакции.
type txJournal struct {
	undo []func()
}

func (j *txJournal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// recordUndo регистрирует откат записи, если ctx несёт транзакцию.
// Вне транзакции запись считается зафиксированной сразу.
func recordUndo(ctx context.Context, fn func()) {
	if journal, ok := ctx.Value(txKey{}).(*txJournal); ok {
		journal.undo = append(journal.undo, fn)
	}
}

// Transactor — in-memory реализация domain.Transactor.
// Транзакции выполняются строго по одной; при ошибке или панике записи
// репозиториев откатываются в обратном порядке. Репозитории, созданные
// с WithTransactor, читают вне транзакции только между транзакциями и
// поэтому не видят записей, которые ещё могут откатиться.
type Transactor struct {
	mu sync.RWMutex
}

// Option настраивает in-memory репозиторий.
type Option func(*readGate)

// WithTransactor связывает чтения репозитория с транзакциями t.
func WithTransactor(t *Transactor) Option {
	return func(g *readGate) { g.tx = t }
}

// readGate ждёт завершения текущей транзакции перед чтением вне неё.
type readGate struct {
	tx *Transactor
}

func newReadGate(opts []Option) readGate {
	var g readGate
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// enter возвращает функцию выхода. Внутри транзакции ждать нечего:
// она уже держит Transactor.
func (g readGate) enter(ctx context.Context) func() {
	if g.tx == nil {
		return func() {}
	}
	if _, ok := ctx.Value(txKey{}).(*txJournal); ok {
		return func() {}
	}
	g.tx.mu.RLock()
	return g.tx.mu.RUnlock
}

// NewTransactor создаёт in-memory Transactor.
func NewTransactor() *Transactor {
	return &Transactor{}
}

// WithinTx выполняет fn в транзакции. Вложенный вызов переиспользует внешнюю.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*txJournal); ok {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	journal := &txJournal{}
	defer func() {
		if p := recover(); p != nil {
			journal.rollback()
			panic(p)
		}
		if err != nil {
			journal.rollback()
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, journal))
}

var _ domain.Transactor = (*Transactor)(nil)
