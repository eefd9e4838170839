package production

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"sceneflow/internal/adapters/cache"
	"sceneflow/internal/adapters/onlinecache"
	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/core/services"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"
)

// fakeRepo is an in-memory stand-in for the Postgres repository. It
// mirrors the conditional-update semantics the orchestrator relies on.
type fakeRepo struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order
	scenes map[int64]*domain.Scene
	users  map[int64]*domain.User
	locks  map[string]time.Time
	nextID int64
	now    func() time.Time
}

var _ ports.RepositoryInterface = (*fakeRepo)(nil)

func newFakeRepo(now func() time.Time) *fakeRepo {
	return &fakeRepo{
		orders: make(map[int64]*domain.Order),
		scenes: make(map[int64]*domain.Scene),
		users:  make(map[int64]*domain.User),
		locks:  make(map[string]time.Time),
		now:    now,
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) addOrder(o domain.Order) *domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.ID = f.id()
	f.orders[o.ID] = &o
	return &o
}

func (f *fakeRepo) addScene(s domain.Scene) *domain.Scene {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.id()
	if s.StatusModified.IsZero() {
		s.StatusModified = f.now()
	}
	f.scenes[s.ID] = &s
	return &s
}

func (f *fakeRepo) addUser(u domain.User) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.id()
	f.users[u.ID] = &u
	return &u
}

func (f *fakeRepo) scene(id int64) domain.Scene {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.scenes[id]
}

func (f *fakeRepo) order(id int64) domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

func (f *fakeRepo) FindOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.OrderID == orderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, pgx.ErrNoRows)
}

func (f *fakeRepo) FindOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) FindOrderByRemoteID(ctx context.Context, remoteOrderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.RemoteOrderID != nil && *o.RemoteOrderID == remoteOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeRepo) OrdersWhere(ctx context.Context, flt ports.OrderFilter) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if flt.Status != "" && o.Status != flt.Status {
			continue
		}
		if flt.UserID != nil && o.UserID != *flt.UserID {
			continue
		}
		if flt.InitialNoticeUnsent && o.InitialNoticeSent != nil {
			continue
		}
		if flt.CompletionNoticeUnsent && o.CompletionNoticeSent != nil {
			continue
		}
		if flt.CompletedBefore != nil && (o.CompletionDate == nil || !o.CompletionDate.Before(*flt.CompletedBefore)) {
			continue
		}
		if flt.OrderedAfter != nil && !o.OrderDate.After(*flt.OrderedAfter) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.Before(out[j].OrderDate) })
	return out, nil
}

func (f *fakeRepo) InsertOrder(ctx context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.id()
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeRepo) SetOrderStatus(ctx context.Context, id int64, from, to domain.OrderStatus, completed *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return nil
	}
	o.Status = to
	if completed != nil {
		o.CompletionDate = completed
	}
	return nil
}

func (f *fakeRepo) SetOrderNoticeSent(ctx context.Context, id int64, kind string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	switch kind {
	case domain.NoticeInitial:
		if o.InitialNoticeSent != nil {
			return false, nil
		}
		o.InitialNoticeSent = &at
	case domain.NoticeCompletion, domain.NoticeCancellation:
		if o.CompletionNoticeSent != nil {
			return false, nil
		}
		o.CompletionNoticeSent = &at
	default:
		return false, fmt.Errorf("unknown notice kind %q", kind)
	}
	return true, nil
}

func (f *fakeRepo) SceneByNameOrder(ctx context.Context, name string, orderID int64) (*domain.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.scenes {
		if s.Name == name && s.OrderID == orderID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("scene %s of order %d: %w", name, orderID, pgx.ErrNoRows)
}

func (f *fakeRepo) ScenesWhere(ctx context.Context, flt ports.SceneFilter) ([]domain.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Scene
	for _, s := range f.scenes {
		if len(flt.Statuses) > 0 && !statusIn(s.Status, flt.Statuses) {
			continue
		}
		if len(flt.OrderIDs) > 0 && !int64In(s.OrderID, flt.OrderIDs) {
			continue
		}
		if len(flt.Names) > 0 && !stringIn(s.Name, flt.Names) {
			continue
		}
		if len(flt.Categories) > 0 && !stringIn(s.Category, flt.Categories) {
			continue
		}
		if flt.RetryBefore != nil && (s.RetryAfter == nil || !s.RetryAfter.Before(*flt.RetryBefore)) {
			continue
		}
		if flt.ModifiedBefore != nil && !s.StatusModified.Before(*flt.ModifiedBefore) {
			continue
		}
		if flt.HasPendingPush && s.PendingPush == nil {
			continue
		}
		if flt.HasRemoteUnit && s.RemoteUnitID == nil {
			continue
		}
		if flt.ZeroDownloadSize && s.DownloadSize != 0 {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) InsertScenes(ctx context.Context, scenes []domain.Scene) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range scenes {
		s.ID = f.id()
		s.StatusModified = f.now()
		cp := s
		f.scenes[s.ID] = &cp
	}
	return nil
}

func (f *fakeRepo) BulkUpdateScenes(ctx context.Context, ids []int64, expect []domain.SceneStatus, upd domain.SceneUpdate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		s, ok := f.scenes[id]
		if !ok {
			continue
		}
		if len(expect) > 0 && !statusIn(s.Status, expect) {
			continue
		}
		f.apply(s, upd)
		n++
	}
	return n, nil
}

func (f *fakeRepo) UpdateScene(ctx context.Context, id int64, upd domain.SceneUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenes[id]
	if !ok {
		return pgx.ErrNoRows
	}
	f.apply(s, upd)
	return nil
}

func (f *fakeRepo) apply(s *domain.Scene, upd domain.SceneUpdate) {
	if upd.Status != nil {
		s.Status = *upd.Status
		s.StatusModified = f.now()
	}
	if upd.ProcessingLocation != nil {
		s.ProcessingLocation = *upd.ProcessingLocation
	}
	if upd.JobName != nil {
		s.JobName = *upd.JobName
	}
	if upd.Note != nil {
		s.Note = *upd.Note
	}
	if upd.LogFileContents != nil {
		s.LogFileContents = *upd.LogFileContents
	}
	if upd.RetryCount != nil {
		s.RetryCount = *upd.RetryCount
	}
	if upd.RetryLimit != nil {
		s.RetryLimit = *upd.RetryLimit
	}
	if upd.RetryAfter != nil {
		s.RetryAfter = upd.RetryAfter
	} else if upd.ClearRetryAfter {
		s.RetryAfter = nil
	}
	if upd.CompletionDate != nil {
		s.CompletionDate = upd.CompletionDate
	}
	if upd.DownloadSize != nil {
		s.DownloadSize = *upd.DownloadSize
	}
	if upd.PendingPush != nil {
		s.PendingPush = upd.PendingPush
	} else if upd.ClearPendingPush {
		s.PendingPush = nil
	}
	if upd.ProductDistroLocation != nil {
		s.ProductDistroLocation = *upd.ProductDistroLocation
	}
	if upd.ProductDownloadURL != nil {
		s.ProductDownloadURL = *upd.ProductDownloadURL
	}
	if upd.CksumDistroLocation != nil {
		s.CksumDistroLocation = *upd.CksumDistroLocation
	}
	if upd.CksumDownloadURL != nil {
		s.CksumDownloadURL = *upd.CksumDownloadURL
	}
}

func (f *fakeRepo) UnsettledSceneCount(ctx context.Context, orderID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.scenes {
		if s.OrderID == orderID && !s.Status.Settled() {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) SceneStatusCounts(ctx context.Context, orderID int64) (map[domain.SceneStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.SceneStatus]int)
	for _, s := range f.scenes {
		if s.OrderID == orderID {
			counts[s.Status]++
		}
	}
	return counts, nil
}

// FairnessQueue mirrors the repository query: oncache scenes of ordered
// orders, least-loaded submitter first, FIFO by order date within a
// submitter, with the submitter/priority/category filters applied.
func (f *fakeRepo) FairnessQueue(ctx context.Context, limit int, submitter, priority string, categories []string) ([]domain.FairnessRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	running := make(map[string]int)
	for _, s := range f.scenes {
		if !statusIn(s.Status, domain.RunningStatuses()) {
			continue
		}
		if o, ok := f.orders[s.OrderID]; ok {
			running[o.Email]++
		}
	}

	var rows []domain.FairnessRow
	for _, s := range f.scenes {
		if s.Status != domain.SceneOnCache {
			continue
		}
		o, ok := f.orders[s.OrderID]
		if !ok || o.Status != domain.OrderOrdered {
			continue
		}
		u := f.users[o.UserID]
		if len(categories) > 0 && !stringIn(s.Category, categories) {
			continue
		}
		if submitter != "" && (u == nil || u.Username != submitter) {
			continue
		}
		if priority != "" && o.Priority != priority {
			continue
		}
		contactID := ""
		if u != nil {
			contactID = u.ContactID
		}
		rows = append(rows, domain.FairnessRow{
			ContactID: contactID, Name: s.Name, Category: s.Category,
			OrderID: o.OrderID, Options: o.ProductOpts, Priority: o.Priority,
			OrderDate: o.OrderDate, Running: running[o.Email],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Running != rows[j].Running {
			return rows[i].Running < rows[j].Running
		}
		return rows[i].OrderDate.Before(rows[j].OrderDate)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeRepo) ClaimLock(ctx context.Context, name string, at time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.locks[name]; ok && prev.Add(ttl).After(at) {
		return false, nil
	}
	f.locks[name] = at
	return true, nil
}

func (f *fakeRepo) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeRepo) UserByContactID(ctx context.Context, contactID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ContactID == contactID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeRepo) InsertUser(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = f.id()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func statusIn(s domain.SceneStatus, list []domain.SceneStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func int64In(n int64, list []int64) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func stringIn(s string, list []string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fakeInventory scripts the remote holding system.
type fakeInventory struct {
	mu        sync.Mutex
	available bool
	verified  map[string]bool
	urls      map[string]string
	failPush  bool
	pushes    []pushRecord
	remote    []domain.RemoteOrder
	statuses  map[string]*domain.RemoteOrder
	username  string
	email     string
}

type pushRecord struct {
	RemoteOrderID string
	UnitID        int64
	StatusCode    string
}

var _ ports.InventoryInterface = (*fakeInventory)(nil)

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		available: true,
		verified:  make(map[string]bool),
		urls:      make(map[string]string),
		statuses:  make(map[string]*domain.RemoteOrder),
		username:  "jdoe",
		email:     "jdoe@host.gov",
	}
}

func (f *fakeInventory) Available(ctx context.Context) bool { return f.available }

func (f *fakeInventory) Login(ctx context.Context) (string, error) { return "token", nil }

func (f *fakeInventory) Logout(ctx context.Context) error { return nil }

func (f *fakeInventory) VerifyScenes(ctx context.Context, category string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = f.verified[id]
	}
	return out, nil
}

func (f *fakeInventory) DownloadURLs(ctx context.Context, category string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, ok := f.urls[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeInventory) Search(ctx context.Context, category string, start, end time.Time, path, row int) ([]string, error) {
	return nil, nil
}

func (f *fakeInventory) UpdateOrderStatus(ctx context.Context, remoteOrderID string, unitID int64, statusCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPush {
		return fmt.Errorf("inventory /order-status-update: connection refused")
	}
	f.pushes = append(f.pushes, pushRecord{remoteOrderID, unitID, statusCode})
	return nil
}

func (f *fakeInventory) GetAvailableOrders(ctx context.Context, contactID string) ([]domain.RemoteOrder, error) {
	return f.remote, nil
}

func (f *fakeInventory) GetOrderStatus(ctx context.Context, remoteOrderID string) (*domain.RemoteOrder, error) {
	if o, ok := f.statuses[remoteOrderID]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("inventory /order-status: unknown order %s", remoteOrderID)
}

func (f *fakeInventory) GetUserDetails(ctx context.Context, contactID string) (string, string, error) {
	return f.username, f.email, nil
}

// fakeNotifier records notice publishes.
type fakeNotifier struct {
	mu            sync.Mutex
	initial       []string
	completion    []string
	cancellation  []string
	purgeReports  []domain.PurgeReport
}

var _ ports.NotifierInterface = (*fakeNotifier)(nil)

func (f *fakeNotifier) SendInitial(ctx context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initial = append(f.initial, order.OrderID)
	return nil
}

func (f *fakeNotifier) SendCompletion(ctx context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completion = append(f.completion, order.OrderID)
	return nil
}

func (f *fakeNotifier) SendCancellation(ctx context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellation = append(f.cancellation, order.OrderID)
	return nil
}

func (f *fakeNotifier) SendPurgeReport(ctx context.Context, report domain.PurgeReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeReports = append(f.purgeReports, report)
	return nil
}

// fakeOnlineCache scripts the distribution cache admin endpoint.
type fakeOnlineCache struct {
	mu       sync.Mutex
	existing map[string]bool
	sizes    map[string]int64
	deleted  []string
	capacity domain.Capacity
}

var _ ports.OnlineCacheInterface = (*fakeOnlineCache)(nil)

func newFakeOnlineCache() *fakeOnlineCache {
	return &fakeOnlineCache{
		existing: make(map[string]bool),
		sizes:    make(map[string]int64),
		capacity: domain.Capacity{TotalBytes: 100, UsedBytes: 60, FreeBytes: 40, UsedPct: "60%"},
	}
}

func (f *fakeOnlineCache) Exists(ctx context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[orderID], nil
}

func (f *fakeOnlineCache) Delete(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.existing, orderID)
	f.deleted = append(f.deleted, orderID)
	return nil
}

func (f *fakeOnlineCache) DeleteFile(ctx context.Context, orderID, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, orderID+"/"+filename)
	return nil
}

func (f *fakeOnlineCache) FileSize(ctx context.Context, orderID, filename string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.sizes[orderID+"/"+filename]
	if !ok {
		return 0, fmt.Errorf("stat %s/%s: %w", orderID, filename, onlinecache.ErrFileNotFound)
	}
	return size, nil
}

func (f *fakeOnlineCache) Capacity(ctx context.Context) (domain.Capacity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity, nil
}

// testHarness bundles the orchestrator and its fakes under a movable clock.
type testHarness struct {
	p        *Production
	repo     *fakeRepo
	inv      *fakeInventory
	notifier *fakeNotifier
	online   *fakeOnlineCache
	cache    *cache.Memory
	clock    time.Time
}

func newHarness() *testHarness {
	h := &testHarness{clock: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time { return h.clock }

	h.repo = newFakeRepo(now)
	h.inv = newFakeInventory()
	h.notifier = &fakeNotifier{}
	h.online = newFakeOnlineCache()
	h.cache = cache.NewMemoryWithClock(now)

	cfg := config.Config{}
	cfg.Policy.PurgeDays = 10
	cfg.Policy.PurgeLockMinutes = 240
	cfg.Policy.StuckHours = 6
	cfg.Policy.RetryLimit = 5
	cfg.Policy.OnOrderPollLimit = 500
	cfg.Policy.SubmittedBatchCap = 500
	cfg.OnlineCache.DownloadURL = "https://dl.example.com"

	h.p = NewProduction(h.repo, h.inv, h.cache, h.notifier, h.online, services.NewResolver(services.DefaultRules()), cfg, logger.NewLogger("test"))
	h.p.now = now
	return h
}

func (h *testHarness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}
