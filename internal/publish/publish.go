// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish hands finished samples to Redis subscribers
package publish

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// client is the subset of the Redis client the publisher uses
type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// Publisher sends each sample as a CBOR record on a channel and keeps
// a bounded per-device list. It implements acquire.Sink.
type Publisher struct {
	client  client
	channel string
	history int
	log     logrus.FieldLogger
}

// New connects to Redis and checks the connection
func New(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Publisher, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	log.WithField("addr", cfg.Addr).Info("redis connected")
	return newPublisher(c, cfg, log), nil
}

func newPublisher(c client, cfg config.RedisConfig, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		client:  c,
		channel: cfg.Channel,
		history: cfg.History,
		log:     log,
	}
}

// Key returns the list holding a device's recent samples
func Key(device string) string {
	return "cellwatch:" + device + ":samples"
}

// Publish encodes s and publishes it. A failed list update is logged;
// subscribers already received the sample.
func (p *Publisher) Publish(ctx context.Context, s *sample.Sample) error {
	data, err := s.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish sample: %w", err)
	}

	key := Key(s.Device)
	if err := p.client.LPush(ctx, key, data).Err(); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("sample list update failed")
		return nil
	}
	if err := p.client.LTrim(ctx, key, 0, int64(p.history-1)).Err(); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("sample list trim failed")
	}
	return nil
}

// Close closes the Redis connection
func (p *Publisher) Close() error {
	return p.client.Close()
}
