package source

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
)

func TestPostgresLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(liveColumns).
		AddRow(22.5, 48.0, int64(0), int64(1), int64(310), int64(44), updated)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT temperature, humidity, flame, vibration, light, sound, updated_at FROM "live_status" ORDER BY updated_at DESC LIMIT 1`)).
		WillReturnRows(rows)

	src := NewPostgres(db, "")
	snap, err := src.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.Temperature != 22.5 || snap.Humidity != 48 || snap.Flame || !snap.Vibration || snap.Light != 310 || snap.Sound != 44 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.ObservedAt.Equal(updated) {
		t.Fatalf("observed = %s, want %s", snap.ObservedAt, updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "device_status"`)).
		WillReturnRows(sqlmock.NewRows(liveColumns))

	_, err = NewPostgres(db, "device_status").Latest(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestPostgresQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrConnDone)

	_, err = NewPostgres(db, "").Latest(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("expected wrapped ErrConnDone, got %v", err)
	}
}

type fakeRedis struct {
	val string
	err error
	key string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.key = key
	return redis.NewStringResult(f.val, f.err)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisLatest(t *testing.T) {
	fake := &fakeRedis{val: `{"temperature":25.1,"humidity":60,"flame":true,"sound":3}`}
	snap, err := newRedis(fake, "device/live").Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if fake.key != "device/live" {
		t.Fatalf("read key %q", fake.key)
	}
	if snap.Temperature != 25.1 || !snap.Flame || snap.Sound != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRedisMissingKey(t *testing.T) {
	_, err := newRedis(&fakeRedis{err: redis.Nil}, "").Latest(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestRedisMalformedDocument(t *testing.T) {
	_, err := newRedis(&fakeRedis{val: "not json"}, "").Latest(context.Background())
	if err == nil || errors.Is(err, ErrNoData) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

type fakeQuery struct {
	input *dynamodb.QueryInput
	out   *dynamodb.QueryOutput
	err   error
}

func (f *fakeQuery) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestDynamoDBLatest(t *testing.T) {
	fake := &fakeQuery{out: &dynamodb.QueryOutput{Items: []map[string]ddbtypes.AttributeValue{{
		"device_id":   &ddbtypes.AttributeValueMemberS{Value: "esp32-01"},
		"timestamp":   &ddbtypes.AttributeValueMemberN{Value: "1740830400"},
		"temperature": &ddbtypes.AttributeValueMemberN{Value: "21.5"},
		"humidity":    &ddbtypes.AttributeValueMemberN{Value: "45"},
		"vibration":   &ddbtypes.AttributeValueMemberN{Value: "1"},
		"flame":       &ddbtypes.AttributeValueMemberBOOL{Value: false},
	}}}}
	src := &DynamoDB{client: fake, table: "live_status", deviceID: "esp32-01"}

	snap, err := src.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.Temperature != 21.5 || snap.Humidity != 45 || !snap.Vibration || snap.Flame {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.ObservedAt.Unix() != 1740830400 {
		t.Fatalf("unexpected observed time %s", snap.ObservedAt)
	}
	if fake.input.ScanIndexForward == nil || *fake.input.ScanIndexForward {
		t.Fatalf("query must read newest first")
	}
	if fake.input.Limit == nil || *fake.input.Limit != 1 {
		t.Fatalf("query must be limited to one item")
	}
}

func TestDynamoDBEmpty(t *testing.T) {
	src := &DynamoDB{client: &fakeQuery{out: &dynamodb.QueryOutput{}}, table: "t", deviceID: "d"}
	if _, err := src.Latest(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestMQTTCachesLatestMessage(t *testing.T) {
	m := &MQTT{topic: "sensors/live"}

	if _, err := m.Latest(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData before any message, got %v", err)
	}

	if err := m.handlePayload([]byte(`{"temperature":19.5,"flame":1}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := m.handlePayload([]byte(`garbage`)); err == nil {
		t.Fatalf("expected decode error")
	}

	snap, err := m.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.Temperature != 19.5 || !snap.Flame {
		t.Fatalf("malformed message must not replace the cached one: %+v", snap)
	}
}
