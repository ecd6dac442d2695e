package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jankrod/barchomat/internal/core"
	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
	"github.com/jankrod/barchomat/internal/core/schema"
	"github.com/jankrod/barchomat/internal/village"
)

var testTime = time.Date(2015, 5, 1, 8, 9, 10, 0, time.UTC)

type move struct{ ID, X, Y int32 }

type fakeStore struct {
	enemies   []*codec.Message
	moves     []move
	added     []move
	saves     int
	enemyReqs []int
	war       bool
}

func (f *fakeStore) HomeSnapshot() (*codec.Message, error) {
	home := codec.NewMessage(codec.OwnHomeData)
	home.Set("homeId", int64(99))
	home.Set("remainingShield", int32(3600))
	home.Set("homeVillage", `{"buildings":[]}`)
	return home, nil
}

func (f *fakeStore) EnemySnapshot(index int, war bool) (*codec.Message, error) {
	f.enemyReqs = append(f.enemyReqs, index)
	f.war = war
	if len(f.enemies) == 0 {
		return nil, nil
	}
	return f.enemies[index%len(f.enemies)].Clone(), nil
}

// MoveBuilding records every request and only accepts building ids.
func (f *fakeStore) MoveBuilding(objectID, x, y int32) bool {
	f.moves = append(f.moves, move{objectID, x, y})
	return objectID/1000000 == 500
}

func (f *fakeStore) AddBuilding(typeID, x, y int32) bool {
	f.added = append(f.added, move{typeID, x, y})
	return true
}

func (f *fakeStore) Save() error {
	f.saves++
	return nil
}

func newTestFactory(t *testing.T) *codec.Factory {
	t.Helper()
	r, err := schema.Load("../../setup/protocol.yaml")
	if err != nil {
		t.Fatalf("Load() returned an unexpected error: %v", err)
	}
	return codec.NewFactory(r, codec.Options{})
}

func newTestSession(t *testing.T, store *fakeStore) *Session {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return &Session{
		Factory: newTestFactory(t),
		Store:   store,
		Logger:  logger,
		Now:     func() time.Time { return testTime },
	}
}

func command(id int32, fields map[string]int32) *codec.Message {
	c := codec.NewMessage("Command")
	c.Set("id", id)
	for k, v := range fields {
		c.Set(k, v)
	}
	return c
}

func turn(commands ...*codec.Message) *codec.Message {
	t := codec.NewMessage(codec.EndClientTurn)
	t.Set("commands", commands)
	return t
}

func TestSession_EndTurn(t *testing.T) {
	enemy := codec.NewMessage(codec.EnemyHomeData)
	enemy.Set("homeId", int64(7))

	tests := []struct {
		name         string
		turn         *codec.Message
		war          bool
		wantType     string
		wantMoves    []move
		wantAdded    []move
		wantSaves    int
		wantEnemyReq []int
	}{
		{
			name:      "move continues the turn",
			turn:      turn(command(501, map[string]int32{"x": 10, "y": 20, "buildingId": 500000001})),
			wantMoves: []move{{500000001, 10, 20}},
			wantSaves: 1,
		},
		{
			name:      "unknown building isn't saved",
			turn:      turn(command(501, map[string]int32{"x": 10, "y": 20, "buildingId": 1})),
			wantMoves: []move{{1, 10, 20}},
			wantSaves: 0,
		},
		{
			name:      "move has no response",
			turn:      turn(command(501, map[string]int32{"x": 10, "y": 20, "buildingId": 100000})),
			wantMoves: []move{{100000, 10, 20}},
		},
		{
			name: "add then go home",
			turn: turn(
				command(512, map[string]int32{"x": 3, "y": 4, "buildingId": 18000000}),
				command(603, nil),
			),
			wantType:  codec.OwnHomeData,
			wantAdded: []move{{18000000, 3, 4}},
			wantSaves: 1,
		},
		{
			name: "find enemy ends the turn",
			turn: turn(
				command(700, nil),
				command(501, map[string]int32{"x": 1, "y": 1, "buildingId": 500000000}),
			),
			war:          true,
			wantType:     codec.EnemyHomeData,
			wantEnemyReq: []int{0},
		},
		{
			name: "unknown command stops processing",
			turn: turn(
				command(999, nil),
				command(501, map[string]int32{"x": 1, "y": 1, "buildingId": 500000000}),
			),
		},
		{
			name: "command without id is skipped",
			turn: turn(
				codec.NewMessage("Command"),
				command(501, map[string]int32{"x": 1, "y": 2, "buildingId": 500000000}),
			),
			wantMoves: []move{{500000000, 1, 2}},
			wantSaves: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{enemies: []*codec.Message{enemy}}
			s := newTestSession(t, store)
			s.War = tt.war

			response, err := s.endTurn(tt.turn)
			if err != nil {
				t.Fatalf("endTurn() returned an unexpected error: %v", err)
			}

			gotType := ""
			if response != nil {
				gotType = response.Type
			}
			if gotType != tt.wantType {
				t.Errorf("expected response %q, got %q", tt.wantType, gotType)
			}
			if diff := cmp.Diff(tt.wantMoves, store.moves); diff != "" {
				t.Errorf("moves did not match expected; diff:\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAdded, store.added); diff != "" {
				t.Errorf("added objects did not match expected; diff:\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantEnemyReq, store.enemyReqs); diff != "" {
				t.Errorf("enemy requests did not match expected; diff:\n%s", diff)
			}
			if store.saves != tt.wantSaves {
				t.Errorf("expected %d saves, got %d", tt.wantSaves, store.saves)
			}
			if store.war != tt.war {
				t.Errorf("expected war=%v", tt.war)
			}
			if s.Dirty {
				t.Errorf("session should not be dirty after a successful save")
			}
		})
	}
}

func TestSession_LoadEnemy(t *testing.T) {
	enemy := codec.NewMessage(codec.EnemyHomeData)
	enemy.Set("timeStamp", int32(1))
	store := &fakeStore{enemies: []*codec.Message{enemy}}
	s := newTestSession(t, store)

	for i := 0; i < 3; i++ {
		got, err := s.loadEnemy()
		if err != nil {
			t.Fatalf("loadEnemy() returned an unexpected error: %v", err)
		}
		if ts, _ := got.Int("timeStamp"); ts != int32(testTime.Unix()) {
			t.Errorf("expected timeStamp %d, got %d", testTime.Unix(), ts)
		}
	}
	if diff := cmp.Diff([]int{0, 1, 2}, store.enemyReqs); diff != "" {
		t.Errorf("enemy requests did not match expected; diff:\n%s", diff)
	}

	s = newTestSession(t, &fakeStore{})
	if _, err := s.loadEnemy(); !errors.Is(err, ErrNoEnemyVillages) {
		t.Errorf("expected ErrNoEnemyVillages, got %v", err)
	}
}

func TestSession_LoadHome(t *testing.T) {
	s := newTestSession(t, &fakeStore{})
	home, err := s.loadHome()
	if err != nil {
		t.Fatalf("loadHome() returned an unexpected error: %v", err)
	}

	got := map[string]int32{}
	for _, name := range []string{"remainingShield", "age", "timeStamp"} {
		got[name], _ = home.Int(name)
	}
	want := map[string]int32{
		"remainingShield": 0,
		"age":             4,
		"timeStamp":       int32(testTime.Unix() - 4),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("home did not match expected; diff:\n%s", diff)
	}
}

func TestSession_Handle(t *testing.T) {
	s := newTestSession(t, &fakeStore{})

	response, err := s.handle(codec.NewMessage(codec.KeepAlive))
	if err != nil || response != nil {
		t.Errorf("expected messages before login to be ignored, got %v, %v", response, err)
	}

	s.setState(Ready)
	for _, typeName := range []string{codec.KeepAlive, codec.SetDeviceToken} {
		response, err := s.handle(codec.NewMessage(typeName))
		if err != nil {
			t.Fatalf("handle(%s) returned an unexpected error: %v", typeName, err)
		}
		if response == nil || response.Type != codec.ServerKeepAlive {
			t.Errorf("expected ServerKeepAlive in response to %s, got %v", typeName, response)
		}
	}

	response, err = s.handle(codec.NewMessage(codec.AttackResult))
	if err != nil {
		t.Fatalf("handle(AttackResult) returned an unexpected error: %v", err)
	}
	if response == nil || response.Type != codec.OwnHomeData {
		t.Errorf("expected OwnHomeData after an attack, got %v", response)
	}
}

func TestSession_Login(t *testing.T) {
	factory := newTestFactory(t)
	suite := encryption.NewRC4Suite()
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	serverConn, err := pdu.NewConnection("client", serverEnd, suite)
	if err != nil {
		t.Fatalf("NewConnection() returned an unexpected error: %v", err)
	}
	clientConn, err := pdu.NewConnection("server", clientEnd, suite)
	if err != nil {
		t.Fatalf("NewConnection() returned an unexpected error: %v", err)
	}

	nonce := bytes.Repeat([]byte{0x5a}, nonceLength)
	s := newTestSession(t, &fakeStore{})
	s.Conn = serverConn
	s.Nonce = func() ([]byte, error) { return nonce, nil }

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	login := codec.NewMessage(codec.Login)
	login.Set("userId", int64(1234))
	login.Set("userToken", "token")
	login.Set("majorVersion", int32(7))
	login.Set("minorVersion", int32(156))
	login.Set("clientSeed", int32(-123456))
	p, err := factory.ToPdu(login)
	if err != nil {
		t.Fatalf("ToPdu() returned an unexpected error: %v", err)
	}
	if err := clientConn.Out.Write(p); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}

	read := func() *codec.Message {
		t.Helper()
		p, err := clientConn.In.Read()
		if err != nil {
			t.Fatalf("Read() returned an unexpected error: %v", err)
		}
		msg, err := factory.FromPdu(p)
		if err != nil {
			t.Fatalf("FromPdu() returned an unexpected error: %v", err)
		}
		return msg
	}

	enc := read()
	if enc.Type != codec.Encryption {
		t.Fatalf("expected Encryption first, got %s", enc.Type)
	}
	serverRandom, _ := enc.Bytes("serverRandom")
	if diff := cmp.Diff(nonce, serverRandom); diff != "" {
		t.Errorf("nonce did not match expected; diff:\n%s", diff)
	}
	if err := clientConn.SetKey(encryption.Scramble(-123456, serverRandom)); err != nil {
		t.Fatalf("SetKey() returned an unexpected error: %v", err)
	}

	loginOk := read()
	if loginOk.Type != codec.LoginOk {
		t.Fatalf("expected LoginOk, got %s", loginOk.Type)
	}
	homeID, _ := loginOk.Long("homeId")
	country, _ := loginOk.Str("country")
	lastLogin, _ := loginOk.Str("lastLoginDate")
	minor, _ := loginOk.Int("minorVersion")
	if homeID != 1234 || country != "US" || minor != 156 {
		t.Errorf("unexpected LoginOk %v", loginOk)
	}
	if lastLogin != "1430467750" {
		t.Errorf("expected lastLoginDate 1430467750, got %q", lastLogin)
	}

	if home := read(); home.Type != codec.OwnHomeData {
		t.Errorf("expected OwnHomeData, got %s", home.Type)
	}
	info := read()
	if f3, _ := info.Int("f3"); info.Type != codec.UnknownInfoResponse || f3 != 1651423 {
		t.Errorf("unexpected info response %v", info)
	}

	keepAlive, _ := factory.ToPdu(codec.NewMessage(codec.KeepAlive))
	if err := clientConn.Out.Write(keepAlive); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}
	if got := read(); got.Type != codec.ServerKeepAlive {
		t.Errorf("expected ServerKeepAlive, got %s", got.Type)
	}
	if s.State() != Ready {
		t.Errorf("expected state Ready, got %s", s.State())
	}
	if s.UserID != 1234 {
		t.Errorf("expected user id 1234, got %d", s.UserID)
	}

	clientEnd.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve() returned an unexpected error: %v", err)
	}
	if s.State() != Terminated {
		t.Errorf("expected state Terminated, got %s", s.State())
	}
}

func TestSession_LoginWithoutSeed(t *testing.T) {
	s := newTestSession(t, &fakeStore{})
	s.Conn, _ = pdu.NewConnection("client", nopConn{}, encryption.NoopSuite{})

	login := codec.NewMessage(codec.Login)
	login.Set("userId", int64(1))

	_, err := s.handle(login)
	var protocolErr *codec.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Errorf("expected a ProtocolError, got %v", err)
	}
	if s.Conn.KeyState() != (pdu.Unkeyed{}) {
		t.Errorf("connection should not be keyed after a failed login")
	}
}

// failingConn fails every read without ever reaching end of stream.
type failingConn struct{}

func (failingConn) Read(b []byte) (int, error) { return 0, errors.New("connection reset") }
func (failingConn) Write(b []byte) (int, error) {
	return len(b), nil
}
func (failingConn) Close() error { return nil }

func TestSession_TooManyIOErrors(t *testing.T) {
	s := newTestSession(t, &fakeStore{})
	s.Conn, _ = pdu.NewConnection("client", failingConn{}, encryption.NoopSuite{})
	s.MaxIOErrors = 3

	if err := s.Serve(context.Background()); !errors.Is(err, ErrTooManyIOErrors) {
		t.Errorf("expected ErrTooManyIOErrors, got %v", err)
	}
}

func TestSession_Shutdown(t *testing.T) {
	s := newTestSession(t, &fakeStore{})
	s.Conn, _ = pdu.NewConnection("client", failingConn{}, encryption.NoopSuite{})
	s.MaxIOErrors = 1 << 30
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
}

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)    { return 0, errors.New("unused") }
func (nopConn) Write(b []byte) (int, error) { return len(b), nil }
func (nopConn) Close() error                { return nil }

func TestServer_Init(t *testing.T) {
	factory := newTestFactory(t)
	logger, _ := test.NewNullLogger()

	home := codec.NewMessage(codec.OwnHomeData)
	home.Set("homeId", int64(5))
	home.Set("homeVillage", `{"buildings":[{"data":1000000,"x":1,"y":2}]}`)
	homeFile := filepath.Join(t.TempDir(), "home.pdu")
	f, err := os.Create(homeFile)
	if err != nil {
		t.Fatalf("Create() returned an unexpected error: %v", err)
	}
	if err := factory.WriteStream(f, home); err != nil {
		t.Fatalf("WriteStream() returned an unexpected error: %v", err)
	}
	f.Close()

	cfg := &core.Config{}
	cfg.Server.HomeFile = homeFile
	cfg.Server.VillagesDir = t.TempDir()
	s := &Server{Name: "SERVER", Config: cfg, Factory: factory, Logger: logger}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() returned an unexpected error: %v", err)
	}
	if s.Store == nil || s.Suite == nil {
		t.Fatalf("Init() did not set up the store and cipher suite")
	}
	snapshot, err := s.Store.HomeSnapshot()
	if err != nil {
		t.Fatalf("HomeSnapshot() returned an unexpected error: %v", err)
	}
	if id, _ := snapshot.Long("homeId"); id != 5 {
		t.Errorf("expected home 5, got %d", id)
	}

	cfg = &core.Config{}
	cfg.Server.VillagesDir = t.TempDir()
	s = &Server{Name: "SERVER", Config: cfg, Factory: factory, Logger: logger}
	if err := s.Init(context.Background()); !errors.Is(err, village.ErrNoHome) {
		t.Errorf("expected ErrNoHome without a captured home, got %v", err)
	}
}

func TestServer_ServeCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := &Server{
		Name:    "SERVER",
		Config:  &core.Config{},
		Factory: newTestFactory(t),
		Logger:  logger,
		Store:   &fakeStore{},
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() returned an unexpected error: %v", err)
	}

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, serverEnd) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestServer_ServeCancelGrace(t *testing.T) {
	factory := newTestFactory(t)
	logger, _ := test.NewNullLogger()
	cfg := &core.Config{}
	cfg.Server.ShutdownGrace = time.Minute
	s := &Server{
		Name:    "SERVER",
		Config:  cfg,
		Factory: factory,
		Logger:  logger,
		Store:   &fakeStore{},
		Suite:   encryption.NoopSuite{},
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() returned an unexpected error: %v", err)
	}

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	_ = clientEnd.SetDeadline(time.Now().Add(5 * time.Second))
	client, err := pdu.NewConnection("server", clientEnd, encryption.NoopSuite{})
	if err != nil {
		t.Fatalf("NewConnection() returned an unexpected error: %v", err)
	}
	keepAlive, err := factory.ToPdu(codec.NewMessage(codec.KeepAlive))
	if err != nil {
		t.Fatalf("ToPdu() returned an unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, serverEnd) }()

	// Once this is read the session is back waiting for the next PDU.
	if err := client.Out.Write(keepAlive); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		t.Fatalf("session ended before its blocked read returned: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// The connection is still open, and the session stops after this PDU.
	if err := client.Out.Write(keepAlive); err != nil {
		t.Fatalf("expected the connection to stay open during the grace period: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned an unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}
}
