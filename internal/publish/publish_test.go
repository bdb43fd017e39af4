// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

type call struct {
	op    string
	key   string
	value []byte
	start int64
	stop  int64
}

// fakeClient records commands and fails the ones named in fail
type fakeClient struct {
	calls  []call
	fail   map[string]error
	closed bool
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.calls = append(f.calls, call{op: "publish", key: channel, value: message.([]byte)})
	return redis.NewIntResult(1, f.fail["publish"])
}

func (f *fakeClient) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.calls = append(f.calls, call{op: "lpush", key: key, value: values[0].([]byte)})
	return redis.NewIntResult(1, f.fail["lpush"])
}

func (f *fakeClient) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.calls = append(f.calls, call{op: "ltrim", key: key, start: start, stop: stop})
	return redis.NewStatusResult("OK", f.fail["ltrim"])
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func testSample() *sample.Sample {
	s := sample.New("jbd")
	s.Device = "house"
	s.Set(sample.Voltage, 13.3)
	s.Cells = []float64{3.32, 3.33, 3.33, 3.32}
	return s
}

func newTestPublisher(f *fakeClient) (*Publisher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	cfg := config.RedisConfig{Channel: "cellwatch:samples", History: 100}
	return newPublisher(f, cfg, logger), hook
}

func TestPublish(t *testing.T) {
	f := &fakeClient{}
	p, _ := newTestPublisher(f)

	if err := p.Publish(context.Background(), testSample()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(f.calls) != 3 {
		t.Fatalf("expected publish, lpush and ltrim, got %+v", f.calls)
	}
	if f.calls[0].op != "publish" || f.calls[0].key != "cellwatch:samples" {
		t.Errorf("unexpected publish: %+v", f.calls[0])
	}
	if f.calls[1].op != "lpush" || f.calls[1].key != "cellwatch:house:samples" {
		t.Errorf("unexpected lpush: %+v", f.calls[1])
	}
	if f.calls[2].op != "ltrim" || f.calls[2].start != 0 || f.calls[2].stop != 99 {
		t.Errorf("unexpected ltrim: %+v", f.calls[2])
	}

	got, err := sample.ParseCBOR(f.calls[0].value)
	if err != nil {
		t.Fatalf("published record does not decode: %v", err)
	}
	if got.Device != "house" || got.Value(sample.Voltage) != 13.3 || len(got.Cells) != 4 {
		t.Errorf("unexpected record: %v", got)
	}
}

func TestPublish_ChannelFailure(t *testing.T) {
	f := &fakeClient{fail: map[string]error{"publish": errors.New("connection refused")}}
	p, _ := newTestPublisher(f)

	err := p.Publish(context.Background(), testSample())
	if err == nil || !errors.Is(err, f.fail["publish"]) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("list must not be touched after a failed publish, got %+v", f.calls)
	}
}

func TestPublish_ListFailureIsLogged(t *testing.T) {
	f := &fakeClient{fail: map[string]error{"lpush": errors.New("OOM")}}
	p, hook := newTestPublisher(f)

	if err := p.Publish(context.Background(), testSample()); err != nil {
		t.Fatalf("list failure must not fail the publish: %v", err)
	}
	if len(f.calls) != 2 {
		t.Errorf("expected no trim after a failed push, got %+v", f.calls)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || entry.Data["key"] != "cellwatch:house:samples" {
		t.Errorf("expected a warning about the list, got %+v", entry)
	}
}

func TestKey(t *testing.T) {
	if got := Key("van"); got != "cellwatch:van:samples" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestClose(t *testing.T) {
	f := &fakeClient{}
	p, _ := newTestPublisher(f)
	if err := p.Close(); err != nil || !f.closed {
		t.Errorf("expected client closed, got %v", err)
	}
}
