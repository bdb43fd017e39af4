// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sample

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// RecordSample is the record type of an encoded sample
const RecordSample = 1

// Map keys of the encoded record. Scalar values use their Key number;
// the remaining fields sit above the Key range.
const (
	fieldDevice      = 100
	fieldProfile     = 101
	fieldTimestamp   = 102 // unix milliseconds
	fieldCells       = 103
	fieldTemps       = 104
	fieldCharging    = 105
	fieldProblem     = 106
	fieldProblemCode = 107
)

// MarshalCBOR encodes the sample as [RecordSample, payload_map]
func (s *Sample) MarshalCBOR() ([]byte, error) {
	payload := make(map[int]interface{}, len(s.values)+8)
	for k, v := range s.values {
		payload[int(k)] = v
	}
	payload[fieldDevice] = s.Device
	payload[fieldProfile] = s.Profile
	payload[fieldTimestamp] = s.Timestamp.UnixMilli()
	if len(s.Cells) > 0 {
		payload[fieldCells] = s.Cells
	}
	if len(s.Temps) > 0 {
		payload[fieldTemps] = s.Temps
	}
	payload[fieldCharging] = s.Charging
	payload[fieldProblem] = s.Problem
	payload[fieldProblemCode] = s.ProblemCode

	return cbor.Marshal([]interface{}{uint64(RecordSample), payload})
}

// ParseCBOR decodes a record produced by MarshalCBOR
func ParseCBOR(data []byte) (*Sample, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR record")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}
	if t, ok := msg[0].(uint64); !ok || t != RecordSample {
		return nil, fmt.Errorf("unexpected record type %v", msg[0])
	}

	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map payload, got %T", msg[1])
	}
	payload := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}

	s := &Sample{values: make(map[Key]float64)}
	for k := Key(0); k < keyCount; k++ {
		if v, ok := getMapFloat(payload, int(k)); ok {
			s.values[k] = v
		}
	}
	s.Device, _ = payload[fieldDevice].(string)
	s.Profile, _ = payload[fieldProfile].(string)
	if ms, ok := getMapInt(payload, fieldTimestamp); ok {
		s.Timestamp = time.UnixMilli(ms)
	}
	s.Cells = getMapFloats(payload, fieldCells)
	s.Temps = getMapFloats(payload, fieldTemps)
	s.Charging, _ = payload[fieldCharging].(bool)
	s.Problem, _ = payload[fieldProblem].(bool)
	if code, ok := getMapInt(payload, fieldProblemCode); ok {
		s.ProblemCode = uint64(code)
	}
	return s, nil
}

func getMapFloat(m map[int]interface{}, key int) (float64, bool) {
	return toFloat(m[key])
}

func getMapInt(m map[int]interface{}, key int) (int64, bool) {
	switch val := m[key].(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

func getMapFloats(m map[int]interface{}, key int) []float64 {
	arr, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		if v, ok := toFloat(item); ok {
			out = append(out, v)
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}
