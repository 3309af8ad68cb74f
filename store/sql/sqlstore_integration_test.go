package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/migrations"
	sqlstore "github.com/roadpay/roadpay/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "roadpay-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"payment_kv_entries",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "payment_kv_entries" {
		t.Fatalf("expected payment_kv_entries table, got %q", tableName)
	}
}

func TestKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	store := factory.KVStore()
	if store == nil {
		t.Fatalf("expected kv store from factory")
	}

	if err := store.Put(ctx, core.EventKey("evt_1"), []byte(`{"success":true}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	value, found, err := store.Get(ctx, core.EventKey("evt_1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || string(value) != `{"success":true}` {
		t.Fatalf("unexpected value %q found=%v", value, found)
	}

	if err := store.Put(ctx, core.EventKey("evt_1"), []byte(`{"success":false}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, _, err = store.Get(ctx, core.EventKey("evt_1"))
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(value) != `{"success":false}` {
		t.Fatalf("expected overwrite to win, got %q", value)
	}

	if err := store.Delete(ctx, core.EventKey("evt_1")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, found, _ := store.Get(ctx, core.EventKey("evt_1")); found {
		t.Fatalf("expected key to be deleted")
	}
}

func TestKVStorePutIfAbsentClaimsOnce(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store := newKVStore(t, client)

	claimed, err := store.PutIfAbsent(ctx, core.EventKey("evt_1"), []byte("first"))
	if err != nil {
		t.Fatalf("first put-if-absent: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first writer to claim the key")
	}

	claimed, err = store.PutIfAbsent(ctx, core.EventKey("evt_1"), []byte("second"))
	if err != nil {
		t.Fatalf("second put-if-absent: %v", err)
	}
	if claimed {
		t.Fatalf("expected second writer to lose the claim")
	}

	value, _, err := store.Get(ctx, core.EventKey("evt_1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "first" {
		t.Fatalf("expected original value to survive, got %q", value)
	}
}

func TestKVStoreListKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store := newKVStore(t, client)

	seed := map[string]string{
		core.EventKey("evt_1"):      "a",
		core.EventKey("evt_2"):      "b",
		core.DeadLetterKey("evt_3"): "c",
		core.PaymentKey("in_1"):     "d",
	}
	for key, value := range seed {
		if err := store.Put(ctx, key, []byte(value)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	keys, err := store.ListKeys(ctx, core.KeyPrefixEvent)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 event keys, got %v", keys)
	}

	keys, err = store.ListKeys(ctx, core.KeyPrefixDeadLetter)
	if err != nil {
		t.Fatalf("list dead letter keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != core.DeadLetterKey("evt_3") {
		t.Fatalf("unexpected dead letter keys %v", keys)
	}
}

func TestNotificationDispatchStoreDedupes(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	store := factory.NotificationDispatchStore()

	dispatch := core.NotificationDispatch{
		EventID:        "evt_1",
		Template:       "receipt",
		Recipient:      "jo@example.com",
		IdempotencyKey: "evt_1:receipt:jo@example.com",
		Status:         "sent",
	}

	seen, err := store.Seen(ctx, dispatch.IdempotencyKey)
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatalf("expected fresh key to be unseen")
	}

	if err := store.Record(ctx, dispatch); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Recording the same key again is a no-op, not an error.
	if err := store.Record(ctx, dispatch); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}

	seen, err = store.Seen(ctx, dispatch.IdempotencyKey)
	if err != nil {
		t.Fatalf("seen after record: %v", err)
	}
	if !seen {
		t.Fatalf("expected key to be seen after record")
	}
}

func TestCustomerDirectoryLookup(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	directory := factory.CustomerDirectory()

	if err := directory.Upsert(ctx, "cus_1", "jo@example.com", "Jo"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	email, err := directory.CustomerEmail(ctx, "cus_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if email != "jo@example.com" {
		t.Fatalf("unexpected email %q", email)
	}

	if err := directory.Upsert(ctx, "cus_1", "jo+new@example.com", "Jo"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	email, err = directory.CustomerEmail(ctx, "cus_1")
	if err != nil {
		t.Fatalf("lookup after update: %v", err)
	}
	if email != "jo+new@example.com" {
		t.Fatalf("expected updated email, got %q", email)
	}

	if _, err := directory.CustomerEmail(ctx, "cus_missing"); err == nil {
		t.Fatalf("expected missing customer to error")
	}
}

func TestCachedCustomerDirectoryServesFromCache(t *testing.T) {
	ctx := context.Background()

	base := &countingDirectory{email: "jo@example.com"}

	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}

	cached, err := sqlstore.NewCachedCustomerDirectory(base, cacheService)
	if err != nil {
		t.Fatalf("new cached directory: %v", err)
	}

	for i := 0; i < 3; i++ {
		email, err := cached.CustomerEmail(ctx, "cus_1")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if email != "jo@example.com" {
			t.Fatalf("unexpected email %q", email)
		}
	}

	if base.calls != 1 {
		t.Fatalf("expected one base lookup, got %d", base.calls)
	}
}

func TestCustomerEmailCacheKeyContract(t *testing.T) {
	key, err := sqlstore.CustomerEmailCacheKey("cus 1/a")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}

	const expected = "roadpay::customer_email::v1::cus%201%2Fa"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}
}

func newKVStore(t *testing.T, client *persistence.Client) *sqlstore.KVStore {
	t.Helper()

	store, err := sqlstore.NewKVStore(client.DB())
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}

	return store
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:roadpay-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(migrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

type countingDirectory struct {
	email string
	calls int
}

func (d *countingDirectory) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	d.calls++
	return d.email, nil
}
