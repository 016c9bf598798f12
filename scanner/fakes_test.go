package scanner

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"forum-mirror/database"
	"forum-mirror/models"
)

// fakeClient emulates the platform: newest-first pagination for messages
// and archived threads, optional rate limiting.
type fakeClient struct {
	mu        sync.Mutex
	guilds    []int64
	forums    map[int64][]models.SourceChannel // guild → forum channels
	active    map[int64][]models.SourceThread  // guild → active threads
	archived  map[int64][]models.SourceThread  // channel → archived, newest archive first
	messages  map[int64][]models.SourceMessage // thread → chronological ascending
	starters  map[int64]models.SourceMessage
	rateLimit bool

	messagePages int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		forums:   make(map[int64][]models.SourceChannel),
		active:   make(map[int64][]models.SourceThread),
		archived: make(map[int64][]models.SourceThread),
		messages: make(map[int64][]models.SourceMessage),
		starters: make(map[int64]models.SourceMessage),
	}
}

func rateLimitErr() error {
	return &discordgo.RESTError{Response: &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
	}}
}

func (f *fakeClient) GuildIDs() []int64 { return f.guilds }

func (f *fakeClient) ForumChannels(_ context.Context, guildID int64) ([]models.SourceChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forums[guildID], nil
}

func (f *fakeClient) ActiveThreads(_ context.Context, guildID int64) ([]models.SourceThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[guildID], nil
}

func (f *fakeClient) ArchivedThreads(_ context.Context, channelID int64, before *time.Time, limit int) ([]models.SourceThread, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateLimit {
		return nil, false, rateLimitErr()
	}
	var page []models.SourceThread
	for _, th := range f.archived[channelID] {
		if before != nil && !th.ArchivedAt.Before(*before) {
			continue
		}
		page = append(page, th)
		if len(page) == limit {
			break
		}
	}
	more := len(page) == limit
	return page, more, nil
}

func (f *fakeClient) Messages(_ context.Context, threadID int64, limit int, beforeID int64) ([]models.SourceMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateLimit {
		return nil, rateLimitErr()
	}
	f.messagePages++

	all := append([]models.SourceMessage(nil), f.messages[threadID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	var page []models.SourceMessage
	for _, m := range all {
		if beforeID != 0 && m.ID >= beforeID {
			continue
		}
		page = append(page, m)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeClient) StarterMessage(_ context.Context, threadID int64) (*models.SourceMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.starters[threadID]
	if !ok {
		return nil, &discordgo.RESTError{Response: &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
		}}
	}
	return &m, nil
}

// memStore backs both the reconciler and the orchestrator cursor in tests.
type memStore struct {
	mu         sync.Mutex
	channels   map[int64]models.Channel
	threads    map[int64]models.Thread
	posts      map[int64]models.Post
	staff      map[string]models.StaffRole
	moderation int
	cursor     models.SyncCursor
}

func newMemStore() *memStore {
	return &memStore{
		channels: make(map[int64]models.Channel),
		threads:  make(map[int64]models.Thread),
		posts:    make(map[int64]models.Post),
		staff:    make(map[string]models.StaffRole),
		cursor:   models.SyncCursor{LastSync: time.Unix(0, 0).UTC(), IsFirstRun: true},
	}
}

func (s *memStore) UpsertChannel(_ context.Context, ch models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
	return nil
}

func (s *memStore) UpsertThread(_ context.Context, th models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.threads {
		if other.Slug == th.Slug && other.ID != th.ID {
			return database.ErrDuplicateSlug
		}
	}
	if old, ok := s.threads[th.ID]; ok {
		th.ReplyCount = old.ReplyCount
		th.CreatedAt = old.CreatedAt
	}
	s.threads[th.ID] = th
	return nil
}

func (s *memStore) UpsertPost(_ context.Context, p models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.posts[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	}
	s.posts[p.ID] = p
	return nil
}

func (s *memStore) SetPostReply(_ context.Context, postID, replyToID int64, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return database.ErrNotFound
	}
	p.ReplyToID = replyToID
	p.ReplyToAuthorAlias = alias
	s.posts[postID] = p
	return nil
}

func (s *memStore) CountPosts(_ context.Context, threadID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.posts {
		if p.ThreadID == threadID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) SetThreadReplyCount(_ context.Context, threadID int64, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return database.ErrNotFound
	}
	th.ReplyCount = n
	s.threads[threadID] = th
	return nil
}

func (s *memStore) FindPost(_ context.Context, id int64) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *memStore) FindThread(_ context.Context, id int64) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := th
	return &cp, nil
}

func (s *memStore) FindThreadBySlug(_ context.Context, slug string) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, th := range s.threads {
		if th.Slug == slug {
			cp := th
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *memStore) DeletePost(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return false, nil
	}
	delete(s.posts, id)
	return true, nil
}

func (s *memStore) DeleteThread(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return false, nil
	}
	delete(s.threads, id)
	return true, nil
}

func (s *memStore) GetStaffRole(_ context.Context, hash string) (*models.StaffRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.staff[hash]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (s *memStore) EnqueueModeration(_ context.Context, _ string, _ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderation++
	return nil
}

func (s *memStore) GetCursor(_ context.Context) (models.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *memStore) SetCursor(_ context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = models.SyncCursor{LastSync: ts, IsFirstRun: false}
	return nil
}

func (s *memStore) ThreadExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[id]
	return ok, nil
}
