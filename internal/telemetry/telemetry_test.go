// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/via-fydp/Basestation-SW/internal/config"
	"github.com/via-fydp/Basestation-SW/pkg/devicemgr"
	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

// ============================================================
// Test fakes
// ============================================================

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// pendingToken never completes
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient overrides the paho methods the publisher uses
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	failTopic    string
	messages     []published
	connectToken pahomqtt.Token
	disconnects  int
}

func (c *fakeClient) Connect() pahomqtt.Token { return c.connectToken }

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failTopic {
		return doneToken{err: errors.New("broker rejected")}
	}
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

type fakeSource struct {
	snap     devicemgr.Snapshot
	commands []string
}

func (s *fakeSource) Snapshot() devicemgr.Snapshot { return s.snap }

func (s *fakeSource) EnqueueCommand(cmd string) error {
	if cmd == "bad" {
		return errors.New("rejected")
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func testSnapshot() devicemgr.Snapshot {
	return devicemgr.Snapshot{
		At: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Link: devicemgr.LinkStatus{
			State:      link.StateConnected,
			SessionID:  "abc",
			Reconnects: 2,
		},
		Sensors: map[string]rigstate.PressureReading{
			"Supply": rigstate.Valid(112),
			"Brake":  {Status: rigstate.StatusFault},
		},
		FaultCounts: map[string]int{"Brake": 6},
		Battery:     map[string]rigstate.BatteryReading{"D1": {Value: "3.70", Charging: true}},
	}
}

func newTestPublisher(t *testing.T, client *fakeClient, src Source, encoding string) *Publisher {
	t.Helper()
	encode, err := NewEncoder(encoding)
	if err != nil {
		t.Fatal(err)
	}
	return &Publisher{
		client: client,
		cfg:    config.MQTTConfig{QoS: 1, TopicPrefix: "rig"},
		topics: Topics{Prefix: "rig"},
		encode: encode,
		src:    src,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// ============================================================
// Encoding Tests
// ============================================================

func TestNewEncoder_JSON(t *testing.T) {
	encode, err := NewEncoder(config.EncodingJSON)
	if err != nil {
		t.Fatal(err)
	}

	data, err := encode(testSnapshot().Sensors)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"Brake":"FAULT","Supply":112}` {
		t.Errorf("Unexpected JSON %s", data)
	}
}

func TestNewEncoder_CBOR(t *testing.T) {
	encode, err := NewEncoder(config.EncodingCBOR)
	if err != nil {
		t.Fatal(err)
	}

	data, err := encode(testSnapshot().Link)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["state"] != "CONNECTED" {
		t.Errorf("Expected state as text, got %#v", decoded["state"])
	}
	if decoded["session_id"] != "abc" {
		t.Errorf("Unexpected session_id %#v", decoded["session_id"])
	}
}

func TestNewEncoder_Unknown(t *testing.T) {
	if _, err := NewEncoder("xml"); err == nil {
		t.Error("Expected error for unknown encoding")
	}
}

// ============================================================
// MQTT Publisher Tests
// ============================================================

func TestPublishSnapshot(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newTestPublisher(t, client, &fakeSource{snap: testSnapshot()}, config.EncodingJSON)

	if err := p.PublishSnapshot(); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}

	want := []string{"rig/sensors", "rig/fault_counts", "rig/battery", "rig/link", "rig/history"}
	if len(client.messages) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(client.messages))
	}
	for i, msg := range client.messages {
		if msg.topic != want[i] {
			t.Errorf("Message %d: topic %q, want %q", i, msg.topic, want[i])
		}
		if !msg.retained {
			t.Errorf("Message on %s should be retained", msg.topic)
		}
	}

	var linkStatus map[string]any
	if err := json.Unmarshal(client.messages[3].payload, &linkStatus); err != nil {
		t.Fatal(err)
	}
	if linkStatus["state"] != "CONNECTED" || linkStatus["reconnects"] != 2.0 {
		t.Errorf("Unexpected link payload %v", linkStatus)
	}
}

func TestPublishSnapshot_Disconnected(t *testing.T) {
	p := newTestPublisher(t, &fakeClient{}, &fakeSource{}, config.EncodingJSON)
	if err := p.PublishSnapshot(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestPublishSnapshot_ContinuesAfterFailure(t *testing.T) {
	client := &fakeClient{connected: true, failTopic: "rig/battery"}
	p := newTestPublisher(t, client, &fakeSource{snap: testSnapshot()}, config.EncodingJSON)

	err := p.PublishSnapshot()
	if !errors.Is(err, ErrPublishFailed) || !strings.Contains(err.Error(), "rig/battery") {
		t.Errorf("Expected publish failure naming the topic, got %v", err)
	}
	if len(client.messages) != 4 {
		t.Errorf("Other topics should still publish, got %d", len(client.messages))
	}
}

func TestConnectFailureStopsClient(t *testing.T) {
	tests := []struct {
		name  string
		token pahomqtt.Token
	}{
		{"timeout", pendingToken{}},
		{"broker error", doneToken{err: errors.New("not authorized")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{connectToken: tt.token}
			p := newTestPublisher(t, client, &fakeSource{}, config.EncodingJSON)

			err := p.connect(time.Millisecond)
			if !errors.Is(err, ErrConnectionFailed) {
				t.Fatalf("Expected ErrConnectionFailed, got %v", err)
			}
			if client.disconnects != 1 {
				t.Errorf("Expected the client to be disconnected once, got %d", client.disconnects)
			}
		})
	}
}

func TestConnectSuccessKeepsClient(t *testing.T) {
	client := &fakeClient{connectToken: doneToken{}}
	p := newTestPublisher(t, client, &fakeSource{}, config.EncodingJSON)

	if err := p.connect(time.Millisecond); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if client.disconnects != 0 {
		t.Errorf("Connected client should stay up, got %d disconnects", client.disconnects)
	}
}

func TestHandleCommand(t *testing.T) {
	src := &fakeSource{}
	p := newTestPublisher(t, &fakeClient{}, src, config.EncodingJSON)

	err := p.handleCommand([]byte("open_1\r\n\nclose_2 \nbad\n"))
	if err == nil {
		t.Error("Expected the rejected command to be reported")
	}
	if strings.Join(src.commands, ",") != "open_1,close_2 " {
		t.Errorf("Unexpected commands %v", src.commands)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "lab/rig1"}
	if topics.Command() != "lab/rig1/command" || topics.Status() != "lab/rig1/status" {
		t.Errorf("Unexpected topics %q %q", topics.Command(), topics.Status())
	}
}

func TestStatusPayload(t *testing.T) {
	var v map[string]string
	if err := json.Unmarshal([]byte(statusPayload("offline", "bs", "shutdown")), &v); err != nil {
		t.Fatal(err)
	}
	if v["status"] != "offline" || v["client_id"] != "bs" || v["reason"] != "shutdown" {
		t.Errorf("Unexpected payload %v", v)
	}
}

// ============================================================
// InfluxDB Point Tests
// ============================================================

func TestPressurePoint(t *testing.T) {
	at := time.Unix(100, 0)

	valid := write.PointToLineProtocol(pressurePoint(devicemgr.PressureSample{
		SensorID: "1038401923",
		Label:    "Supply",
		Reading:  rigstate.Valid(112),
		At:       at,
	}), time.Second)
	want := "pressure,label=Supply,sensor_id=1038401923,status=VALID valid=true,value=112 100\n"
	if valid != want {
		t.Errorf("Got  %q\nwant %q", valid, want)
	}

	faulted := write.PointToLineProtocol(pressurePoint(devicemgr.PressureSample{
		SensorID: "S1",
		Label:    "S1",
		Reading:  rigstate.PressureReading{Status: rigstate.StatusFault},
		At:       at,
	}), time.Second)
	if strings.Contains(faulted, "value=") || !strings.Contains(faulted, "status=FAULT") {
		t.Errorf("Faulted reading should carry no value: %q", faulted)
	}
}

func TestBatteryPoint(t *testing.T) {
	line := write.PointToLineProtocol(batteryPoint(devicemgr.BatterySample{
		DeviceID: "D1",
		Label:    "Cart",
		Reading:  rigstate.BatteryReading{Value: "3.70", Charging: true},
		At:       time.Unix(100, 0),
	}), time.Second)

	want := "battery,device_id=D1,label=Cart charging=true,value=3.7 100\n"
	if line != want {
		t.Errorf("Got  %q\nwant %q", line, want)
	}
}
