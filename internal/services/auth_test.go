package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/auroraid/apiserver/internal/credentials"
	"github.com/auroraid/apiserver/internal/kv"
	"github.com/auroraid/apiserver/internal/store"
	"github.com/auroraid/apiserver/internal/verification"
	"github.com/auroraid/apiserver/types"
)

type fakeNotifier struct {
	mu               sync.Mutex
	codes            map[string]string
	passwords        map[string]string
	failVerification bool
	failWelcome      bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{codes: map[string]string{}, passwords: map[string]string{}}
}

func (n *fakeNotifier) SendVerificationEmail(ctx context.Context, email, code string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failVerification {
		return false
	}
	n.codes[email] = code
	return true
}

func (n *fakeNotifier) SendWelcomeEmail(ctx context.Context, email, password string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWelcome {
		return false
	}
	n.passwords[email] = password
	return true
}

func (n *fakeNotifier) code(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

func (n *fakeNotifier) password(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.passwords[email]
}

// countingStore records how many store calls pass through it.
type countingStore struct {
	kv.Store
	calls atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, key string) (string, error) {
	s.calls.Add(1)
	return s.Store.Get(ctx, key)
}

func (s *countingStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.calls.Add(1)
	return s.Store.SetWithTTL(ctx, key, value, ttl)
}

func (s *countingStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	s.calls.Add(1)
	return s.Store.Delete(ctx, keys...)
}

func (s *countingStore) Incr(ctx context.Context, key string) (int64, error) {
	s.calls.Add(1)
	return s.Store.Incr(ctx, key)
}

func (s *countingStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.calls.Add(1)
	return s.Store.HGetAll(ctx, key)
}

func (s *countingStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.calls.Add(1)
	return s.Store.HSet(ctx, key, fields)
}

func (s *countingStore) HSetField(ctx context.Context, key, field, value string) error {
	s.calls.Add(1)
	return s.Store.HSetField(ctx, key, field, value)
}

func (s *countingStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	s.calls.Add(1)
	return s.Store.CompareAndDelete(ctx, key, expected)
}

func (s *countingStore) CreateHashWithID(ctx context.Context, key string, fields map[string]string, counterKey, idField string) (int64, error) {
	s.calls.Add(1)
	return s.Store.CreateHashWithID(ctx, key, fields, counterKey, idField)
}

func (s *countingStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	s.calls.Add(1)
	return s.Store.DeleteByPrefix(ctx, prefix)
}

type authFixture struct {
	svc      *AuthService
	admin    *AdminService
	store    *countingStore
	notifier *fakeNotifier
	users    *store.UserRepository
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	counting := &countingStore{Store: kv.NewMemoryStore()}
	users := store.NewUserRepository(counting)
	codes := store.NewCodeRepository(counting)
	notifier := newFakeNotifier()

	return &authFixture{
		svc: NewAuthService(
			users,
			verification.NewManager(codes, 6, time.Minute),
			credentials.NewManager(bcrypt.MinCost, 12),
			notifier,
		),
		admin:    NewAdminService(users, codes),
		store:    counting,
		notifier: notifier,
		users:    users,
	}
}

func (f *authFixture) register(t *testing.T, email string) LoginResult {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.SendCode(ctx, email); err != nil {
		t.Fatalf("SendCode(%q) error: %v", email, err)
	}
	res, err := f.svc.Login(ctx, LoginInput{Email: email, Code: f.notifier.code(email)})
	if err != nil {
		t.Fatalf("Login(%q) error: %v", email, err)
	}
	return res
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}

func TestMalformedEmailSkipsStore(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginInput{Email: "not-an-email", Code: "123456"})
	wantCode(t, err, CodeInvalidEmail)

	wantCode(t, f.svc.SendCode(ctx, "not-an-email"), CodeInvalidEmail)
	wantCode(t, f.svc.ChangePassword(ctx, ChangePasswordInput{
		Email: "not-an-email", OldPassword: "a", NewPassword: "b",
	}), CodeInvalidEmail)

	_, err = f.svc.Login(ctx, LoginInput{Email: "   ", Password: "x"})
	wantCode(t, err, CodeInvalidEmail)

	if n := f.store.calls.Load(); n != 0 {
		t.Fatalf("expected no store calls, got %d", n)
	}
}

func TestRegistrationAssignsNextID(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.store.Incr(ctx, "user_counter"); err != nil {
			t.Fatalf("Incr error: %v", err)
		}
	}

	res := f.register(t, "new@x.com")
	if !res.Registered || !res.WelcomeSent {
		t.Fatalf("expected registration with welcome mail, got %+v", res)
	}
	if res.ID != 4 || res.Username != "new" {
		t.Fatalf("expected id 4 username new, got %+v", res)
	}

	user, err := f.users.GetByEmail(ctx, "new@x.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if user.ID != 4 || user.PasswordOrigin != types.PasswordSystemGenerated {
		t.Fatalf("unexpected stored user %+v", user)
	}
	if user.PasswordHash == "" || user.PasswordHash == f.notifier.password("new@x.com") {
		t.Fatalf("expected hashed password, got %q", user.PasswordHash)
	}

	again := f.register(t, "new@x.com")
	if again.Registered || again.ID != 4 || again.Username != "new" {
		t.Fatalf("expected login success for existing user, got %+v", again)
	}

	counter, err := f.store.Get(ctx, "user_counter")
	if err != nil {
		t.Fatalf("Get counter error: %v", err)
	}
	if counter != "4" {
		t.Fatalf("expected counter 4, got %s", counter)
	}
}

func TestCodeIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.SendCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	code := f.notifier.code("a@x.com")

	if _, err := f.svc.Login(ctx, LoginInput{Email: "a@x.com", Code: code}); err != nil {
		t.Fatalf("first login error: %v", err)
	}
	_, err := f.svc.Login(ctx, LoginInput{Email: "a@x.com", Code: code})
	wantCode(t, err, CodeCodeMismatch)
}

func TestWrongCodeLeavesNoAccount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.SendCode(ctx, "b@x.com"); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	wrong := "000000"
	if f.notifier.code("b@x.com") == wrong {
		wrong = "111111"
	}

	_, err := f.svc.Login(ctx, LoginInput{Email: "b@x.com", Code: wrong})
	wantCode(t, err, CodeCodeMismatch)

	if _, err := f.users.GetByEmail(ctx, "b@x.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no user record, got %v", err)
	}

	// The pending code survives a mismatch.
	if _, err := f.svc.Login(ctx, LoginInput{Email: "b@x.com", Code: f.notifier.code("b@x.com")}); err != nil {
		t.Fatalf("login with correct code error: %v", err)
	}
}

func TestPasswordLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registered := f.register(t, "c@x.com")
	password := f.notifier.password("c@x.com")

	res, err := f.svc.Login(ctx, LoginInput{Email: "C@X.com ", Password: password})
	if err != nil {
		t.Fatalf("password login error: %v", err)
	}
	if res.ID != registered.ID || res.Username != "c" || res.Registered {
		t.Fatalf("unexpected result %+v", res)
	}

	_, err = f.svc.Login(ctx, LoginInput{Email: "c@x.com", Password: password + "x"})
	wantCode(t, err, CodeWrongPassword)

	_, err = f.svc.Login(ctx, LoginInput{Email: "nobody@x.com", Password: password})
	wantCode(t, err, CodeUserNotFound)

	_, err = f.svc.Login(ctx, LoginInput{Email: "c@x.com"})
	wantCode(t, err, CodeMissingCredential)
}

func TestCodeTakesPrecedenceOverPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.register(t, "d@x.com")
	password := f.notifier.password("d@x.com")

	_, err := f.svc.Login(ctx, LoginInput{Email: "d@x.com", Password: password, Code: "999999"})
	wantCode(t, err, CodeCodeMismatch)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.register(t, "e@x.com")
	initial := f.notifier.password("e@x.com")

	wantCode(t, f.svc.ChangePassword(ctx, ChangePasswordInput{Email: "e@x.com", OldPassword: initial}), CodeMissingFields)
	wantCode(t, f.svc.ChangePassword(ctx, ChangePasswordInput{
		Email: "e@x.com", OldPassword: "wrong", NewPassword: "next-pass",
	}), CodeWrongOldPassword)
	wantCode(t, f.svc.ChangePassword(ctx, ChangePasswordInput{
		Email: "ghost@x.com", OldPassword: initial, NewPassword: "next-pass",
	}), CodeUserNotFound)

	if err := f.svc.ChangePassword(ctx, ChangePasswordInput{
		Email: "e@x.com", OldPassword: initial, NewPassword: "next-pass",
	}); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}

	if _, err := f.svc.Login(ctx, LoginInput{Email: "e@x.com", Password: "next-pass"}); err != nil {
		t.Fatalf("login with new password error: %v", err)
	}
	_, err := f.svc.Login(ctx, LoginInput{Email: "e@x.com", Password: initial})
	wantCode(t, err, CodeWrongPassword)

	user, err := f.users.GetByEmail(ctx, "e@x.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if user.PasswordOrigin != types.PasswordSystemGenerated {
		t.Fatalf("expected origin untouched, got %s", user.PasswordOrigin)
	}
}

func TestConcurrentRegistrationHasOneWinner(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.svc.SendCode(ctx, "race@x.com"); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	code := f.notifier.code("race@x.com")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []LoginResult
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Login(ctx, LoginInput{Email: "race@x.com", Code: code})
			if err != nil {
				if CodeOf(err) != CodeCodeMismatch {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			winners = append(winners, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one successful registration, got %d", len(winners))
	}
	user, err := f.users.GetByEmail(ctx, "race@x.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if user.ID != winners[0].ID || user.ID != 1 {
		t.Fatalf("expected stored id %d to be 1, winner %+v", user.ID, winners[0])
	}
}

// raceUsers simulates losing the create to a concurrent registration.
type raceUsers struct {
	winner types.User
	reads  int
}

func (r *raceUsers) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.reads++
	if r.reads == 1 {
		return types.User{}, store.ErrNotFound
	}
	return r.winner, nil
}

func (r *raceUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	return types.User{}, store.ErrAlreadyExists
}

func (r *raceUsers) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	return nil
}

func TestLostCreateRaceResolvesToLogin(t *testing.T) {
	mem := kv.NewMemoryStore()
	notifier := newFakeNotifier()
	users := &raceUsers{winner: types.User{ID: 9, Email: "r@x.com", Username: "r"}}
	codes := verification.NewManager(store.NewCodeRepository(mem), 6, time.Minute)
	svc := NewAuthService(users, codes, credentials.NewManager(bcrypt.MinCost, 12), notifier)
	ctx := context.Background()

	if err := svc.SendCode(ctx, "r@x.com"); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}
	var logs bytes.Buffer
	ctx = zerolog.New(&logs).WithContext(ctx)
	res, err := svc.Login(ctx, LoginInput{Email: "r@x.com", Code: notifier.code("r@x.com")})
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if res.Registered || res.ID != 9 || res.Username != "r" {
		t.Fatalf("expected existing user 9, got %+v", res)
	}

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		if bytes.Contains(line, []byte("concurrent create")) {
			if err := json.Unmarshal(line, &entry); err != nil {
				t.Fatalf("decode log line: %v", err)
			}
		}
	}
	if entry == nil {
		t.Fatalf("expected a lost-race log entry, got %s", logs.String())
	}
	if entry["level"] != "warn" || !strings.Contains(entry["message"].(string), "password is invalid") {
		t.Fatalf("unexpected lost-race log entry: %v", entry)
	}
	if entry["welcome_sent"] != true {
		t.Fatalf("expected welcome_sent=true, got %v", entry["welcome_sent"])
	}
}

func TestWelcomeFailureDoesNotBlockRegistration(t *testing.T) {
	f := newAuthFixture(t)
	f.notifier.failWelcome = true

	res := f.register(t, "quiet@x.com")
	if !res.Registered || res.WelcomeSent {
		t.Fatalf("expected registration without welcome mail, got %+v", res)
	}
}

func TestSendCodeReportsDeliveryFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.notifier.failVerification = true

	wantCode(t, f.svc.SendCode(context.Background(), "f@x.com"), CodeSendFailed)
}

type unavailableUsers struct{}

func (unavailableUsers) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return types.User{}, fmt.Errorf("%w: dial tcp: connection refused", kv.ErrUnavailable)
}

func (unavailableUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	return types.User{}, kv.ErrUnavailable
}

func (unavailableUsers) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	return kv.ErrUnavailable
}

func TestStoreUnavailable(t *testing.T) {
	mem := kv.NewMemoryStore()
	codes := verification.NewManager(store.NewCodeRepository(mem), 6, time.Minute)
	svc := NewAuthService(unavailableUsers{}, codes, credentials.NewManager(bcrypt.MinCost, 12), newFakeNotifier())

	_, err := svc.Login(context.Background(), LoginInput{Email: "g@x.com", Password: "pw"})
	wantCode(t, err, CodeStoreUnavailable)
	if !errors.Is(err, kv.ErrUnavailable) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
}

// clearAfterLookup runs clear once, right after the first successful lookup.
type clearAfterLookup struct {
	*store.UserRepository
	once  sync.Once
	clear func()
}

func (u *clearAfterLookup) GetByEmail(ctx context.Context, email string) (types.User, error) {
	user, err := u.UserRepository.GetByEmail(ctx, email)
	if err == nil {
		u.once.Do(u.clear)
	}
	return user, err
}

func TestChangePasswordAfterClearLeavesNoRecord(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.register(t, "late@x.com")
	initial := f.notifier.password("late@x.com")

	users := &clearAfterLookup{UserRepository: f.users}
	users.clear = func() {
		if _, err := f.admin.ClearAll(ctx); err != nil {
			t.Errorf("ClearAll error: %v", err)
		}
	}
	svc := NewAuthService(users, f.svc.codes, f.svc.passwords, f.notifier)

	wantCode(t, svc.ChangePassword(ctx, ChangePasswordInput{
		Email: "late@x.com", OldPassword: initial, NewPassword: "next-pass",
	}), CodeUserNotFound)

	if _, err := f.store.HGetAll(ctx, store.UserKey("late@x.com")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected no record after cleared update, got %v", err)
	}

	res := f.register(t, "late@x.com")
	if !res.Registered || res.ID != 1 {
		t.Fatalf("expected fresh registration with id 1, got %+v", res)
	}
}

func TestClearAll(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.register(t, "one@x.com")
	f.register(t, "two@x.com")
	if err := f.svc.SendCode(ctx, "pending@x.com"); err != nil {
		t.Fatalf("SendCode error: %v", err)
	}

	report, err := f.admin.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll error: %v", err)
	}
	if report.Users != 2 || report.Codes != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	res := f.register(t, "three@x.com")
	if res.ID != 1 {
		t.Fatalf("expected counter reset, got id %d", res.ID)
	}
}
