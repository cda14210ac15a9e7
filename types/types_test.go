package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func validConfig() Config {
	c := Config{
		WatchCollections: []string{"EnvironmentalSensor", "LogicStatement"},
		Collections: map[string]string{
			"EnvironmentalSensor": "envsensors",
			"LogicStatement":      "logicstatements",
		},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "config"},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Bus:   BusConfig{Topic: "topic.configurationupdate", Brokers: []string{"localhost:9092"}},
	}
	c.SetDefaults()
	return c
}

func TestValidateOK(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	got := c.WatchedCollections()
	if len(got) != 2 || got[0] != "envsensors" || got[1] != "logicstatements" {
		t.Fatalf("unexpected watched collections %v", got)
	}
}

func TestValidateNamesEveryMissingKey(t *testing.T) {
	c := validConfig()
	c.Bus.Topic = ""
	c.Redis.Addr = ""
	delete(c.Collections, "LogicStatement")

	err := c.Validate()
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
	var me *MissingConfigError
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingConfigError, got %T", err)
	}
	want := []string{"bus.topic", "collections.LogicStatement", "redis.addr"}
	if len(me.Keys) != len(want) {
		t.Fatalf("got %v want %v", me.Keys, want)
	}
	for i := range want {
		if me.Keys[i] != want[i] {
			t.Fatalf("got %v want %v", me.Keys, want)
		}
	}
}

func TestValidateBusIgnoresBridgeSettings(t *testing.T) {
	c := Config{Bus: BusConfig{Driver: "amqp", Topic: "configuration.update", URL: "amqp://localhost"}}
	c.SetDefaults()
	if err := c.ValidateBus(); err != nil {
		t.Fatalf("validate bus: %v", err)
	}
	if err := c.Validate(); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("full validation should still fail, got %v", err)
	}

	c.Bus.URL = ""
	var missing *MissingConfigError
	if err := c.ValidateBus(); !errors.As(err, &missing) || len(missing.Keys) != 1 || missing.Keys[0] != "bus.url" {
		t.Fatalf("want bus.url missing, got %v", err)
	}
}

func TestValidateBinlogFeed(t *testing.T) {
	c := validConfig()
	c.Feed = FeedBinlog
	c.Checkpoint.Driver = CheckpointFile
	if err := c.Validate(); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected missing mysql settings, got %v", err)
	}
	c.MySQL = MySQLConfig{Addr: "127.0.0.1:3306", User: "root", Schema: "config"}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestCategoryJSON(t *testing.T) {
	var c Category
	if err := c.UnmarshalJSON([]byte(`"EnvironmentalSensor"`)); err != nil || c != EnvironmentalSensor {
		t.Fatalf("name: got %v %v", c, err)
	}
	if err := c.UnmarshalJSON([]byte(`0`)); err != nil || c != LogicStatement {
		t.Fatalf("ordinal: got %v %v", c, err)
	}
	if err := c.UnmarshalJSON([]byte(`7`)); err == nil {
		t.Fatal("expected error for unknown ordinal")
	}
	if err := c.UnmarshalJSON([]byte(`"Signal"`)); err == nil {
		t.Fatal("expected error for unknown name")
	}
}

func TestInvalidatedEnvelope(t *testing.T) {
	env, err := NewEnvelope(ConfigurationInvalidated{}, uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeInvalidated || string(env.Body) != "{}" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	h := env.Headers()
	if len(h) != 1 || h[0] != [2]string{HeaderType, TypeInvalidated} {
		t.Fatalf("zero tenant must not be sent: %v", h)
	}
	if _, ok := env.Message().(ConfigurationInvalidated); !ok {
		t.Fatalf("got %T", env.Message())
	}
}

func TestEntityEnvelope(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-4b1d-4c55-9a0e-2f7b8d3c1a00")
	tenant := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	env, err := NewEnvelope(ConfigurationChanged{Category: LogicStatement, ID: id}, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if string(env.Body) != `{"category":"LogicStatement","id":"6f1c2a9e-4b1d-4c55-9a0e-2f7b8d3c1a00"}` {
		t.Fatalf("unexpected body %s", env.Body)
	}
	h := env.Headers()
	if len(h) != 2 || h[1] != [2]string{HeaderTenantID, tenant.String()} {
		t.Fatalf("unexpected headers %v", h)
	}
	got, ok := env.Message().(ConfigurationChanged)
	if !ok || got.ID != id || got.Category != LogicStatement {
		t.Fatalf("got %#v", env.Message())
	}
}

func TestEnvelopeFromHeaders(t *testing.T) {
	headers := map[string]string{
		HeaderType:     TypeDeleted,
		HeaderTenantID: "not-a-uuid",
		HeaderDeviceID: "6f1c2a9e-4b1d-4c55-9a0e-2f7b8d3c1a00",
	}
	get := func(k string) (string, bool) { v, ok := headers[k]; return v, ok }
	env := EnvelopeFromHeaders(get, []byte(`{"category":1,"id":"6f1c2a9e-4b1d-4c55-9a0e-2f7b8d3c1a00"}`))
	if env.TenantID != uuid.Nil {
		t.Fatal("invalid tenant should decode as zero")
	}
	if env.DeviceID == nil {
		t.Fatal("device id should be kept")
	}
	d, ok := env.Message().(ConfigurationDeleted)
	if !ok || d.Category != EnvironmentalSensor {
		t.Fatalf("got %#v", env.Message())
	}
}

func TestUnknownAndNonParseable(t *testing.T) {
	none := func(string) (string, bool) { return "", false }
	env := EnvelopeFromHeaders(none, []byte("x"))
	u, ok := env.Message().(UnknownUpdate)
	if !ok || u.TypeName != TypeUnspecified || u.Data != "x" {
		t.Fatalf("got %#v", env.Message())
	}

	env = Envelope{Type: TypeCreated, Body: []byte("{not json")}
	np, ok := env.Message().(NonParseableUpdate)
	if !ok || np.Err == nil || np.Data != "{not json" {
		t.Fatalf("got %#v", env.Message())
	}
}

func TestUnpublishableVariant(t *testing.T) {
	if _, err := NewEnvelope(UnknownUpdate{TypeName: "Other"}, uuid.Nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseCategoryErrorCarriesStack(t *testing.T) {
	_, err := ParseCategory("Firmware")
	if err == nil {
		t.Fatal("want error for unknown category")
	}
	if !strings.Contains(fmt.Sprintf("%+v", err), "category.go") {
		t.Fatalf("want stack trace in %+v", err)
	}
}
