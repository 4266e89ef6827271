package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"async-tournament-system/models"
)

func stamp(ts *models.Timestamps) {
	now := time.Now().UTC()
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = now
	}
	ts.UpdatedAt = now
}

// MemoryStore is an in-process Store used by tests and local runs without a
// database. All methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	tournaments map[string]*models.Tournament
	pools       map[string]*models.PermalinkPool
	permalinks  map[string]*models.Permalink
	users       map[string]*models.User
	races       map[string]*models.Race
	liveRaces   map[string]*models.LiveRace
	permissions []models.Permission
	whitelist   []models.WhitelistEntry
	audit       []models.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tournaments: make(map[string]*models.Tournament),
		pools:       make(map[string]*models.PermalinkPool),
		permalinks:  make(map[string]*models.Permalink),
		users:       make(map[string]*models.User),
		races:       make(map[string]*models.Race),
		liveRaces:   make(map[string]*models.LiveRace),
	}
}

func (s *MemoryStore) CreateTournament(t *models.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tournaments {
		if existing.ChannelID == t.ChannelID {
			return ErrDuplicate
		}
	}
	cp := *t
	stamp(&cp.Timestamps)
	s.tournaments[t.ID] = &cp
	for i := range t.Pools {
		pool := t.Pools[i]
		pcp := pool
		pcp.Permalinks = nil
		stamp(&pcp.Timestamps)
		s.pools[pool.ID] = &pcp
		for _, link := range pool.Permalinks {
			lcp := link
			stamp(&lcp.Timestamps)
			s.permalinks[link.ID] = &lcp
		}
	}
	return nil
}

// ErrDuplicate mirrors a unique-constraint violation from the database.
var ErrDuplicate = errDuplicate{}

type errDuplicate struct{}

func (errDuplicate) Error() string { return "storage: duplicate key" }

func (s *MemoryStore) assembleTournament(t *models.Tournament) *models.Tournament {
	cp := *t
	cp.Pools = nil
	for _, pool := range s.pools {
		if pool.TournamentID != t.ID {
			continue
		}
		pcp := *pool
		pcp.Permalinks = nil
		for _, link := range s.permalinks {
			if link.PoolID == pool.ID {
				pcp.Permalinks = append(pcp.Permalinks, *link)
			}
		}
		sort.Slice(pcp.Permalinks, func(i, j int) bool {
			return pcp.Permalinks[i].CreatedAt.Before(pcp.Permalinks[j].CreatedAt) ||
				(pcp.Permalinks[i].CreatedAt.Equal(pcp.Permalinks[j].CreatedAt) &&
					pcp.Permalinks[i].ID < pcp.Permalinks[j].ID)
		})
		cp.Pools = append(cp.Pools, pcp)
	}
	sort.Slice(cp.Pools, func(i, j int) bool { return cp.Pools[i].Name < cp.Pools[j].Name })
	return &cp
}

func (s *MemoryStore) GetTournament(id string) (*models.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.assembleTournament(t), nil
}

func (s *MemoryStore) GetTournamentByChannel(channelID string) (*models.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tournaments {
		if t.ChannelID == channelID {
			return s.assembleTournament(t), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateTournament(t *models.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	cp.Pools = nil
	s.tournaments[t.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActiveTournaments() ([]models.Tournament, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Tournament
	for _, t := range s.tournaments {
		if t.Active {
			out = append(out, *s.assembleTournament(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreatePool(p *models.PermalinkPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.Permalinks = nil
	stamp(&cp.Timestamps)
	s.pools[p.ID] = &cp
	for _, link := range p.Permalinks {
		lcp := link
		stamp(&lcp.Timestamps)
		s.permalinks[link.ID] = &lcp
	}
	return nil
}

func (s *MemoryStore) AddPermalinks(links []models.Permalink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, link := range links {
		lcp := link
		stamp(&lcp.Timestamps)
		s.permalinks[link.ID] = &lcp
	}
	return nil
}

func (s *MemoryStore) GetUser(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetOrCreateUserByDiscordID(discordID, displayName string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DiscordUserID == discordID {
			if displayName != "" {
				u.DisplayName = displayName
			}
			cp := *u
			return &cp, nil
		}
	}
	u := &models.User{
		ID:            uuid.NewString(),
		DiscordUserID: discordID,
		DisplayName:   displayName,
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByRacetimeID(racetimeID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.RacetimeID != nil && *u.RacetimeID == racetimeID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateRace(r *models.Race) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	stamp(&cp.Timestamps)
	s.races[r.ID] = &cp
	return nil
}

func (s *MemoryStore) raceView(r *models.Race) *models.Race {
	cp := *r
	if u, ok := s.users[r.UserID]; ok {
		cp.User = *u
	}
	if p, ok := s.permalinks[r.PermalinkID]; ok {
		cp.Permalink = *p
	}
	if t, ok := s.tournaments[r.TournamentID]; ok {
		tcp := *t
		tcp.Pools = nil
		cp.Tournament = tcp
	}
	return &cp
}

func (s *MemoryStore) GetRace(id string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.raceView(r), nil
}

func (s *MemoryStore) GetRaceByThread(threadID string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.races {
		if r.ThreadID == threadID {
			return s.raceView(r), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) listRaces(match func(*models.Race) bool) []models.Race {
	var out []models.Race
	for _, r := range s.races {
		if match(r) {
			out = append(out, *s.raceView(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListRacesByUser(tournamentID, userID string) ([]models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRaces(func(r *models.Race) bool {
		return r.TournamentID == tournamentID && r.UserID == userID
	}), nil
}

func (s *MemoryStore) ListRacesForTournament(tournamentID string) ([]models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRaces(func(r *models.Race) bool { return r.TournamentID == tournamentID }), nil
}

func (s *MemoryStore) ListRacesWithStatus(status models.RaceStatus) ([]models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRaces(func(r *models.Race) bool { return r.Status == status }), nil
}

func (s *MemoryStore) UpdateRace(r *models.Race) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.races[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	s.races[r.ID] = &cp
	return nil
}

func (s *MemoryStore) TransitionRace(id string, allowedFrom []models.RaceStatus, apply func(r *models.Race) error) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !statusAllowed(r.Status, allowedFrom) {
		return nil, ErrStaleTransition
	}
	cp := *r
	if err := apply(&cp); err != nil {
		return nil, err
	}
	s.races[id] = &cp
	view := cp
	return &view, nil
}

func (s *MemoryStore) CreateLiveRace(lr *models.LiveRace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.liveRaces {
		if strings.EqualFold(existing.RacetimeSlug, lr.RacetimeSlug) {
			return ErrDuplicate
		}
	}
	cp := *lr
	stamp(&cp.Timestamps)
	s.liveRaces[lr.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLiveRaceBySlug(slug string) (*models.LiveRace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lr := range s.liveRaces {
		if lr.RacetimeSlug == slug {
			cp := *lr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateLiveRace(lr *models.LiveRace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveRaces[lr.ID]; !ok {
		return ErrNotFound
	}
	cp := *lr
	s.liveRaces[lr.ID] = &cp
	return nil
}

func (s *MemoryStore) ListRacesByLiveRace(liveRaceID string) ([]models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRaces(func(r *models.Race) bool {
		return r.LiveRaceID != nil && *r.LiveRaceID == liveRaceID
	}), nil
}

func (s *MemoryStore) GrantPermission(p *models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if existing.TournamentID == p.TournamentID && existing.UserID == p.UserID && existing.Role == p.Role {
			return ErrDuplicate
		}
	}
	s.permissions = append(s.permissions, *p)
	return nil
}

func (s *MemoryStore) HasPermission(tournamentID, userID string, roles ...string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if p.TournamentID != tournamentID || p.UserID != userID {
			continue
		}
		for _, role := range roles {
			if p.Role == role {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemoryStore) AddWhitelistEntry(w *models.WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.whitelist {
		if existing.TournamentID == w.TournamentID && existing.UserID == w.UserID {
			return ErrDuplicate
		}
	}
	s.whitelist = append(s.whitelist, *w)
	return nil
}

func (s *MemoryStore) IsWhitelisted(tournamentID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.whitelist {
		if w.TournamentID == tournamentID && w.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) AppendAudit(entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.audit = append(s.audit, cp)
	return nil
}

func (s *MemoryStore) ListAudit(tournamentID string, limit int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].TournamentID != tournamentID {
			continue
		}
		out = append(out, s.audit[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AuditActions returns the recorded action names in insertion order. Test
// helper only.
func (s *MemoryStore) AuditActions(tournamentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, entry := range s.audit {
		if entry.TournamentID == tournamentID {
			out = append(out, entry.Action)
		}
	}
	return out
}
