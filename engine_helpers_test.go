package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	identity "github.com/kadvik/identity"
	"github.com/kadvik/identity/memstore"
	"github.com/kadvik/identity/password"
)

// testClock is a manually advanced time source shared by the engine and
// the assertions.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureMailer records every enqueued mail.
type captureMailer struct {
	mu    sync.Mutex
	mails []identity.Mail
}

func (m *captureMailer) Enqueue(_ context.Context, mail identity.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, mail)
	return nil
}

func (m *captureMailer) lastWithTemplate(template string) (identity.Mail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.mails) - 1; i >= 0; i-- {
		if m.mails[i].Template == template {
			return m.mails[i], true
		}
	}
	return identity.Mail{}, false
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mails)
}

type testEnv struct {
	engine *identity.Engine
	store  *memstore.Store
	clock  *testClock
	mr     *miniredis.Miniredis
	mailer *captureMailer
	cfg    identity.Config
}

// advance moves the fake clock and miniredis key TTLs in lockstep.
func (env *testEnv) advance(d time.Duration) {
	env.clock.Advance(d)
	env.mr.FastForward(d)
}

// redisClient opens another client against the env's miniredis, for tests
// that build a second engine over the same backing state.
func (env *testEnv) redisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: env.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testConfig() identity.Config {
	cfg := identity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Secrets.TOTPKey = []byte("abcdef0123456789abcdef0123456789")
	cfg.Metrics.EnableLatencyHistograms = true
	// Minimum legal Argon2 cost keeps the suite fast.
	cfg.Password = password.Config{
		MemoryKB:    8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*identity.Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		store:  memstore.New(),
		clock:  newTestClock(),
		mr:     mr,
		mailer: &captureMailer{},
		cfg:    cfg,
	}

	engine, err := identity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.store).
		WithMailer(env.mailer).
		WithClock(env.clock).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) hash(t *testing.T, pass string) string {
	t.Helper()
	hasher, err := password.NewHasher(env.cfg.Password)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(pass)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return hash
}

func (env *testEnv) seedAccount(t *testing.T, username, pass string, mutate func(*identity.Account)) identity.Account {
	t.Helper()

	account := identity.Account{
		ID:           "acct-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: env.hash(t, pass),
		Status:       identity.AccountActive,
		CreatedAt:    env.clock.Now(),
		Version:      1,
	}
	if mutate != nil {
		mutate(&account)
	}
	env.store.Seed(account)
	return account
}

func (env *testEnv) mustAccount(t *testing.T, id string) identity.Account {
	t.Helper()
	account, err := env.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find account %s: %v", id, err)
	}
	return account
}

// enrollTOTP walks the full enrollment handshake and returns the shared
// secret. The clock advances one period afterwards so the confirmation
// code's window is spent before the test submits its next code.
func (env *testEnv) enrollTOTP(t *testing.T, ctx context.Context, accountID string) string {
	t.Helper()

	setup, err := env.engine.InitiateTOTPEnrollment(ctx, accountID)
	if err != nil {
		t.Fatalf("initiate enrollment: %v", err)
	}
	if err := env.engine.ConfirmTOTPEnrollment(ctx, accountID, env.totpCode(t, setup.Secret)); err != nil {
		t.Fatalf("confirm enrollment: %v", err)
	}
	env.advance(30 * time.Second)
	return setup.Secret
}

func (env *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, env.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	return code
}

func requestCtx(ip, ua string) context.Context {
	ctx := identity.WithClientIP(context.Background(), ip)
	return identity.WithUserAgent(ctx, ua)
}
