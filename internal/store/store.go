package store

import (
	"sync"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

// StateStore — кеш балансов и позиций. Его одновременно пишут диагностика,
// оркестратор и периодический рефреш, поэтому правило одно: запись замещает
// запись целиком (last-writer-wins по UpdatedAt), никаких частичных патчей.
type StateStore struct {
	mu        sync.RWMutex
	balances  map[models.BalKey]models.Balance
	positions map[models.PosKey]models.Position
}

func NewStateStore() *StateStore {
	return &StateStore{
		balances:  make(map[models.BalKey]models.Balance),
		positions: make(map[models.PosKey]models.Position),
	}
}

// UpsertBalance кладёт баланс, если он не старее уже лежащего.
// Возвращает false, если запись отброшена как устаревшая.
func (s *StateStore) UpsertBalance(b models.Balance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.balances[b.Key()]; ok && b.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	s.balances[b.Key()] = b
	return true
}

func (s *StateStore) Balance(k models.BalKey) (models.Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[k]
	return b, ok
}

// UpsertPosition — те же LWW-правила, что и для балансов.
func (s *StateStore) UpsertPosition(p models.Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.positions[p.Key()]; ok && p.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	s.positions[p.Key()] = p
	return true
}

func (s *StateStore) Position(k models.PosKey) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[k]
	return p, ok
}

// OpenPositions — открытые позиции юзера (все биржи).
func (s *StateStore) OpenPositions(userID int64) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []models.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Open {
			res = append(res, p)
		}
	}
	return res
}

// OpenPositionsByInstrument — открытые позиции всех юзеров по инструменту,
// нужно роутеру для close-intent классификации.
func (s *StateStore) OpenPositionsByInstrument(instrument string) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []models.Position
	for _, p := range s.positions {
		if p.Instrument == instrument && p.Open {
			res = append(res, p)
		}
	}
	return res
}

// AllOpen — все открытые позиции кеша.
func (s *StateStore) AllOpen() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []models.Position
	for _, p := range s.positions {
		if p.Open {
			res = append(res, p)
		}
	}
	return res
}

// Counts — для health-эндпоинта.
func (s *StateStore) Counts() (balances, openPositions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.Open {
			openPositions++
		}
	}
	return len(s.balances), openPositions
}
