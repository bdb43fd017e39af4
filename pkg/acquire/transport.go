// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import "context"

// Transport is one device connection as seen by the acquisition engine.
//
// Chunks delivers notifications in order with no alignment to frames.
// The channel is closed when the connection drops. Write is fire and
// forget; replies arrive on Chunks.
type Transport interface {
	Write(ctx context.Context, char uint16, data []byte) error
	Chunks() <-chan []byte
}
