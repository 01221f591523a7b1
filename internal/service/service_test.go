package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"auth-token-service/internal/client"
	"auth-token-service/internal/config"
	"auth-token-service/internal/consumer"
	"auth-token-service/internal/encryption"
	"auth-token-service/internal/events"
	"auth-token-service/internal/hashing"
	"auth-token-service/internal/models"
	redisrepo "auth-token-service/internal/repository/redis"
	"auth-token-service/internal/repository/scylla"
	"auth-token-service/internal/token"
)

const testPassword = "correct horse battery staple"

// memoryStore stands in for the Scylla account table on both the read
// path and the token-set applier.
type memoryStore struct {
	mu        sync.Mutex
	accounts  map[string]models.Account
	lookupErr error
}

func newMemoryStore(accounts ...models.Account) *memoryStore {
	s := &memoryStore{accounts: make(map[string]models.Account)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memoryStore) find(match func(models.Account) bool) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, a := range s.accounts {
		if match(a) {
			return cloneAccount(a), nil
		}
	}
	return nil, scylla.ErrAccountNotFound
}

func (s *memoryStore) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	return s.find(func(a models.Account) bool { return a.Email == email })
}

func (s *memoryStore) GetAccountByPhoneNumber(_ context.Context, phone string) (*models.Account, error) {
	return s.find(func(a models.Account) bool { return a.PhoneNumber == phone })
}

func (s *memoryStore) GetAccountWithToken(_ context.Context, id, encryptedToken string) (*models.Account, error) {
	return s.find(func(a models.Account) bool { return a.ID == id && a.HasToken(encryptedToken) })
}

func (s *memoryStore) UpdateTokenSet(_ context.Context, id string, mutate func(*models.Account) bool) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, false, scylla.ErrAccountNotFound
	}
	acc := cloneAccount(a)
	if !mutate(acc) {
		return acc, false, nil
	}
	acc.Version++
	s.accounts[id] = *acc
	return cloneAccount(*acc), true, nil
}

func (s *memoryStore) tokens(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts[id].Tokens...)
}

func cloneAccount(a models.Account) *models.Account {
	a.Tokens = append([]string(nil), a.Tokens...)
	a.ActiveDevices = append([]string(nil), a.ActiveDevices...)
	return &a
}

// busProducer delivers every published message synchronously to the
// applier registered for its topic, standing in for Kafka plus the
// cache-applier process.
type busProducer struct {
	mu      sync.Mutex
	routes  map[string]client.MessageHandler
	drop    map[string]bool
	hold    map[string]bool
	held    []kafka.Message
	counts  map[string]int
	sendErr error
}

func (b *busProducer) EnsureTopic(context.Context, string) error { return nil }

func (b *busProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, _ map[string]string) error {
	b.mu.Lock()
	if b.sendErr != nil {
		b.mu.Unlock()
		return b.sendErr
	}
	b.counts[topic]++
	if b.hold[topic] {
		b.held = append(b.held, kafka.Message{Topic: topic, Key: key, Value: value})
		b.mu.Unlock()
		return nil
	}
	handler, deliver := b.routes[topic], !b.drop[topic]
	b.mu.Unlock()

	if handler == nil || !deliver {
		return nil
	}
	return handler(ctx, kafka.Message{Topic: topic, Key: key, Value: value})
}

// release stops holding topic and delivers what was held back, in order.
func (b *busProducer) release(ctx context.Context, topic string) error {
	b.mu.Lock()
	delete(b.hold, topic)
	var pending, rest []kafka.Message
	for _, m := range b.held {
		if m.Topic == topic {
			pending = append(pending, m)
		} else {
			rest = append(rest, m)
		}
	}
	b.held = rest
	handler := b.routes[topic]
	b.mu.Unlock()

	for _, m := range pending {
		if handler == nil {
			continue
		}
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *busProducer) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[topic]
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.SecurityEventType
}

func (a *recordingAuditor) Record(_ context.Context, eventType models.SecurityEventType, _, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
}

func (a *recordingAuditor) has(eventType models.SecurityEventType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	mr       *miniredis.Miniredis
	store    *memoryStore
	writer   *redisrepo.CacheWriter
	bus      *busProducer
	auditor  *recordingAuditor
	enc      *encryption.EncryptionManager
	tokens   *token.Manager
	topics   config.TopicsConfig
	sessions *SessionService
	otps     *OTPService
	now      time.Time
}

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		AccessSecret:    "access-secret-for-tests",
		RefreshSecret:   "refresh-secret-for-tests",
		Algorithm:       "HS256",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		AuthTokenTTL:    5 * time.Minute,
		AuthTokenBytes:  32,
		AccountCacheTTL: time.Hour,
		Issuer:          "auth-token-service",
		Audience:        "api",
		Subject:         "access",
		TokenType:       "Bearer",
		MaxDevices:      5,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	cfg := testTokenConfig()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := client.WrapRedisClient(rdb, logger)

	enc, err := encryption.NewEncryptionManagerWithKey(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := token.NewManager(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	hasher := hashing.NewHasher(&config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	}})
	hashed, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatal(err)
	}

	store := newMemoryStore(
		models.Account{
			ID:             "acc-1",
			Email:          "jane@example.com",
			Firstname:      "Jane",
			Lastname:       "Doe",
			PhoneNumber:    "+15550001111",
			Role:           models.Role{Name: models.RoleAuthenticated},
			EmailVerified:  true,
			PhoneVerified:  true,
			HashedPassword: hashed,
		},
		models.Account{
			ID:             "acc-2",
			Email:          "johndoe@example.com",
			PhoneNumber:    "+15550002222",
			Role:           models.Role{Name: models.RoleAdmin},
			HashedPassword: hashed,
		},
	)

	topics := config.TopicsConfig{
		Cache:              "cache",
		InvalidateCache:    "invalidate_cache",
		AssignToken:        "assign_token",
		UpdateToken:        "update_token",
		RevokeRefreshToken: "revoke_refresh_token",
		ReusedRefreshToken: "reused_refresh_token",
		Logout:             "logout",
	}
	writer := redisrepo.NewCacheWriter(rc, time.Second, logger)
	bus := &busProducer{
		routes: make(map[string]client.MessageHandler),
		drop:   make(map[string]bool),
		hold:   make(map[string]bool),
		counts: make(map[string]int),
	}
	routes := consumer.Routes(topics,
		consumer.NewCacheApplier(writer, logger),
		consumer.NewTokenSetApplier(store, writer, cfg.AccountCacheTTL, cfg.RefreshTTL, logger))
	for _, r := range routes {
		bus.routes[r.Topic] = r.Handler
	}

	h := &harness{
		mr:      mr,
		store:   store,
		writer:  writer,
		bus:     bus,
		auditor: &recordingAuditor{},
		enc:     enc,
		tokens:  tokens,
		topics:  topics,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	deps := Dependencies{
		Config:    cfg,
		Store:     store,
		Cache:     redisrepo.NewAccountCache(rc, time.Second, logger),
		Secrets:   redisrepo.NewSecretCache(rc, time.Second, logger),
		Tokens:    tokens,
		Encryptor: enc,
		Passwords: hasher,
		Publisher: events.NewPublisher(bus, topics, time.Second, logger),
		Auditor:   h.auditor,
	}
	h.sessions = NewServiceFactory(deps, logger).SessionService()
	h.otps = NewOTPService(cfg, deps.Secrets, enc, deps.Publisher, h.auditor, logger,
		WithOTPClock(func() time.Time { return h.now }))
	return h
}

func (h *harness) login(t *testing.T, ip string) *TokenResponse {
	t.Helper()
	resp, err := h.sessions.Login(context.Background(), LoginRequest{
		AuthType: models.AuthTypeEmail,
		Email:    "Jane@Example.com ",
		Password: testPassword,
		DeviceIP: ip,
	})
	if err != nil {
		t.Fatalf("login from %s: %v", ip, err)
	}
	return resp
}

func (h *harness) inStore(id, refreshToken string) bool {
	for _, tok := range h.store.tokens(id) {
		if tok == h.enc.Encrypt(refreshToken) {
			return true
		}
	}
	return false
}

func TestLoginIssuesSession(t *testing.T) {
	h := newHarness(t)
	resp := h.login(t, "10.0.0.1")

	if resp.TokenType != "Bearer" || resp.Expiry != int64((15*time.Minute)/time.Second) {
		t.Fatalf("response = %+v", resp)
	}
	claims, err := h.sessions.VerifyAccessToken(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if claims.ID != "acc-1" || claims.Email != "jane@example.com" || claims.Admin {
		t.Fatalf("claims = %+v", claims)
	}
	if !h.inStore("acc-1", resp.RefreshToken) {
		t.Fatal("refresh token not assigned to the account")
	}
	for _, tok := range h.store.tokens("acc-1") {
		if tok == resp.RefreshToken {
			t.Fatal("plaintext refresh token persisted")
		}
	}
	if !h.mr.Exists(models.AccountKey("acc-1")) {
		t.Fatal("account projection not cached")
	}
	if !h.auditor.has(models.SecurityEventLogin) {
		t.Fatal("login not audited")
	}
}

func TestLoginWithPhoneNumber(t *testing.T) {
	h := newHarness(t)
	_, err := h.sessions.Login(context.Background(), LoginRequest{
		AuthType:    models.AuthTypePhone,
		PhoneNumber: "+1 (555) 000-1111",
		Password:    testPassword,
	})
	if err != nil {
		t.Fatalf("phone login: %v", err)
	}
}

func TestLoginUnverifiedEmailIssuesNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.sessions.Login(context.Background(), LoginRequest{
		AuthType: models.AuthTypeEmail,
		Email:    "johndoe@example.com",
		Password: testPassword,
	})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("err = %v, want ErrEmailNotVerified", err)
	}
	if n := h.bus.count(h.topics.AssignToken); n != 0 {
		t.Fatalf("%d assign events published", n)
	}
	if len(h.store.tokens("acc-2")) != 0 {
		t.Fatal("token assigned to unverified account")
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		req     LoginRequest
		storeUp bool
		want    error
	}{
		{name: "wrong password", req: LoginRequest{AuthType: models.AuthTypeEmail, Email: "jane@example.com", Password: "nope"}, storeUp: true, want: ErrInvalidPassword},
		{name: "unknown email", req: LoginRequest{AuthType: models.AuthTypeEmail, Email: "ghost@example.com", Password: testPassword}, storeUp: true, want: ErrAccountNotFound},
		{name: "phone not verified", req: LoginRequest{AuthType: models.AuthTypePhone, PhoneNumber: "+15550002222", Password: testPassword}, storeUp: true, want: ErrPhoneNotVerified},
		{name: "missing password", req: LoginRequest{AuthType: models.AuthTypeEmail, Email: "jane@example.com"}, storeUp: true, want: ErrInvalidInput},
		{name: "unsupported auth type", req: LoginRequest{AuthType: models.AuthTypeUsername, Email: "jane", Password: testPassword}, storeUp: true, want: ErrInvalidInput},
		{name: "markup in email", req: LoginRequest{AuthType: models.AuthTypeEmail, Email: "<script>@example.com", Password: testPassword}, storeUp: true, want: ErrInvalidInput},
		{name: "store down", req: LoginRequest{AuthType: models.AuthTypeEmail, Email: "jane@example.com", Password: testPassword}, storeUp: false, want: ErrServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if !tt.storeUp {
				h.store.lookupErr = errors.New("no hosts available")
			}
			_, err := h.sessions.Login(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSixthDeviceIsRejected(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.login(t, "10.0.0.1")
	}
	if n := len(h.store.tokens("acc-1")); n != 5 {
		t.Fatalf("sessions = %d, want 5", n)
	}

	_, err := h.sessions.Login(context.Background(), LoginRequest{
		AuthType: models.AuthTypeEmail,
		Email:    "jane@example.com",
		Password: testPassword,
		DeviceIP: "10.0.0.6",
	})
	if !errors.Is(err, ErrDeviceLimitExceeded) {
		t.Fatalf("err = %v, want ErrDeviceLimitExceeded", err)
	}
	if n := len(h.store.tokens("acc-1")); n != 5 {
		t.Fatalf("sessions after rejection = %d", n)
	}
}

func TestRotateReplacesToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.login(t, "10.0.0.1")

	rotated, err := h.sessions.Rotate(ctx, first.RefreshToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.RefreshToken == first.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}
	if h.inStore("acc-1", first.RefreshToken) {
		t.Fatal("old token still a member after rotation")
	}
	if !h.inStore("acc-1", rotated.RefreshToken) {
		t.Fatal("new token not a member after rotation")
	}
	if _, err := h.sessions.VerifyAccessToken(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("rotated access token: %v", err)
	}
}

func TestRotatingTwiceIsReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	original := h.login(t, "10.0.0.1")
	other := h.login(t, "10.0.0.2")

	rotated, err := h.sessions.Rotate(ctx, original.RefreshToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	_, err = h.sessions.Rotate(ctx, original.RefreshToken, "10.9.9.9")
	if !errors.Is(err, ErrReusedToken) {
		t.Fatalf("second rotation err = %v, want ErrReusedToken", err)
	}
	if n := len(h.store.tokens("acc-1")); n != 0 {
		t.Fatalf("%d sessions survived reuse", n)
	}
	if !h.auditor.has(models.SecurityEventTokenReused) {
		t.Fatal("reuse not audited")
	}

	for _, tok := range []string{rotated.RefreshToken, other.RefreshToken} {
		if _, err := h.sessions.Rotate(ctx, tok, "10.0.0.1"); !errors.Is(err, ErrReusedToken) {
			t.Fatalf("token from revoked family: err = %v", err)
		}
	}
}

func TestSignedTokenNotInSetIsReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t, "10.0.0.1")

	pair, err := h.tokens.IssuePair("acc-1", false, token.Profile{Email: "jane@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.sessions.Rotate(ctx, pair.RefreshToken, "10.0.0.1"); !errors.Is(err, ErrReusedToken) {
		t.Fatalf("err = %v, want ErrReusedToken", err)
	}
	if n := len(h.store.tokens("acc-1")); n != 0 {
		t.Fatalf("%d sessions survived", n)
	}
	if h.bus.count(h.topics.ReusedRefreshToken) != 1 {
		t.Fatal("revoke-all not published")
	}
}

func TestRotateFallsBackToStoreOnCacheMiss(t *testing.T) {
	h := newHarness(t)
	resp := h.login(t, "10.0.0.1")
	h.mr.Del(models.AccountKey("acc-1"))

	if _, err := h.sessions.Rotate(context.Background(), resp.RefreshToken, "10.0.0.1"); err != nil {
		t.Fatalf("rotate on cache miss: %v", err)
	}
}

func TestRotateConfirmsStaleProjectionAgainstStore(t *testing.T) {
	h := newHarness(t)
	resp := h.login(t, "10.0.0.1")
	// a projection written before the assign event was applied
	h.mr.Set(models.AccountKey("acc-1"), `{"id":"acc-1","email":"jane@example.com","tokens":[]}`)

	if _, err := h.sessions.Rotate(context.Background(), resp.RefreshToken, "10.0.0.1"); err != nil {
		t.Fatalf("rotate with stale projection: %v", err)
	}
	if h.bus.count(h.topics.ReusedRefreshToken) != 0 {
		t.Fatal("stale projection triggered revoke-all")
	}
}

func TestLateProjectionCannotReviveRotatedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bus.hold[h.topics.Cache] = true

	first := h.login(t, "10.0.0.1")
	loginProjection, err := h.mr.Get(models.AccountKey("acc-1"))
	if err != nil {
		t.Fatalf("projection after login: %v", err)
	}

	if _, err := h.sessions.Rotate(ctx, first.RefreshToken, "10.0.0.1"); err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// anything login queued on the cache topic lands after the rotation
	if err := h.bus.release(ctx, h.topics.Cache); err != nil {
		t.Fatalf("release cache topic: %v", err)
	}
	// as does the assign consumer's projection write
	var late models.Account
	if err := json.Unmarshal([]byte(loginProjection), &late); err != nil {
		t.Fatal(err)
	}
	if err := h.writer.SetAccount(ctx, &late, time.Hour); err != nil {
		t.Fatalf("late projection write: %v", err)
	}

	if _, err := h.sessions.Rotate(ctx, first.RefreshToken, "10.0.0.1"); !errors.Is(err, ErrReusedToken) {
		t.Fatalf("second rotation err = %v, want ErrReusedToken", err)
	}
	if n := len(h.store.tokens("acc-1")); n != 0 {
		t.Fatalf("%d sessions survived reuse", n)
	}
}

func TestRotateFailsClosedWhenStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	resp := h.login(t, "10.0.0.1")
	h.mr.Del(models.AccountKey("acc-1"))
	h.store.lookupErr = errors.New("timeout")

	_, err := h.sessions.Rotate(context.Background(), resp.RefreshToken, "10.0.0.1")
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if h.bus.count(h.topics.ReusedRefreshToken) != 0 || h.bus.count(h.topics.UpdateToken) != 0 {
		t.Fatal("ambiguous lookup must neither rotate nor revoke")
	}
}

func TestRotateRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	resp := h.login(t, "10.0.0.1")

	for _, tok := range []string{"", "not-a-jwt", resp.AccessToken} {
		if _, err := h.sessions.Rotate(context.Background(), tok, "10.0.0.1"); !errors.Is(err, ErrCredential) {
			t.Fatalf("token %q: err = %v, want ErrCredential", tok, err)
		}
	}
	if _, err := h.sessions.VerifyAccessToken(context.Background(), resp.RefreshToken); !errors.Is(err, ErrCredential) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	phone := h.login(t, "10.0.0.1")
	laptop := h.login(t, "10.0.0.2")

	if err := h.sessions.Logout(ctx, phone.RefreshToken, "10.0.0.1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if h.inStore("acc-1", phone.RefreshToken) || !h.inStore("acc-1", laptop.RefreshToken) {
		t.Fatalf("tokens after logout = %v", h.store.tokens("acc-1"))
	}
	if !h.mr.Exists(models.RevokedRefreshTokenKey("acc-1", h.enc.Encrypt(phone.RefreshToken))) {
		t.Fatal("revocation marker missing")
	}
	if h.bus.count(h.topics.Logout) != 1 {
		t.Fatal("logout event not published")
	}

	if _, err := h.sessions.Rotate(ctx, phone.RefreshToken, "10.0.0.1"); !errors.Is(err, ErrCredential) {
		t.Fatalf("revoked token: err = %v, want ErrCredential", err)
	}
	if h.bus.count(h.topics.ReusedRefreshToken) != 0 {
		t.Fatal("revoked token must not trigger revoke-all")
	}
	if _, err := h.sessions.Rotate(ctx, laptop.RefreshToken, "10.0.0.2"); err != nil {
		t.Fatalf("other session: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.login(t, "10.0.0.1")
	h.login(t, "10.0.0.2")

	if err := h.sessions.LogoutAll(ctx, a.AccessToken, "10.0.0.1"); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n := len(h.store.tokens("acc-1")); n != 0 {
		t.Fatalf("%d sessions survived", n)
	}
	if !h.auditor.has(models.SecurityEventRevokeAll) {
		t.Fatal("revoke-all not audited")
	}
	if err := h.sessions.LogoutAll(ctx, a.RefreshToken, ""); !errors.Is(err, ErrCredential) {
		t.Fatalf("refresh token as access token: err = %v", err)
	}
}

func TestRevokeAllSurfacesPublishFailure(t *testing.T) {
	h := newHarness(t)
	h.bus.sendErr = errors.New("broker down")

	if err := h.sessions.RevokeAll(context.Background(), "acc-1", ""); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if err := h.sessions.RevokeAll(context.Background(), "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

type stubAccountCache struct {
	account *models.Account
	err     error
}

func (c stubAccountCache) GetAccount(context.Context, string) (*models.Account, error) {
	return c.account, c.err
}

func TestReadAccount(t *testing.T) {
	stored := models.Account{ID: "acc-1", Email: "jane@example.com", Tokens: []string{"enc-1"}, Version: 3}
	cached := &models.Account{ID: "acc-1", Email: "jane@example.com", Tokens: []string{"enc-0"}, Version: 2}

	tests := []struct {
		name     string
		cache    stubAccountCache
		storeErr error
		token    string
		want     *models.Account
		wantErr  error
	}{
		{name: "cache hit is returned as is", cache: stubAccountCache{account: cached}, token: "enc-1", want: cached},
		{name: "miss falls back to membership query", cache: stubAccountCache{err: redisrepo.ErrCacheMiss}, token: "enc-1", want: &stored},
		{name: "miss with foreign token finds nothing", cache: stubAccountCache{err: redisrepo.ErrCacheMiss}, token: "enc-9"},
		{name: "cache error falls back to store", cache: stubAccountCache{err: errors.New("connection refused")}, token: "enc-1", want: &stored},
		{name: "store error is not absence", cache: stubAccountCache{err: redisrepo.ErrCacheMiss}, storeErr: errors.New("timeout"), token: "enc-1", wantErr: ErrServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore(stored)
			store.lookupErr = tt.storeErr
			reader := NewAccountReader(tt.cache, store, zap.NewNop())

			got, err := reader.ReadAccount(context.Background(), "acc-1", tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("got %+v, want nothing", got)
			case tt.want != nil && (got == nil || got.Version != tt.want.Version):
				t.Fatalf("got %+v, want version %d", got, tt.want.Version)
			}
		})
	}
}
