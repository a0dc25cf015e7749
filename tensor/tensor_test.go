// Copyright 2026 TVM Offload Core Contributors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/digital-nomad-cheng/tvm/tensor"
)

// TestRawTensorAPI verifies the RawTensor alias exposes the expected API.
func TestRawTensorAPI(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}

	if !raw.Shape().Equal(tensor.Shape{2, 3}) {
		t.Errorf("Shape() = %v, want [2 3]", raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		t.Errorf("DType() = %v, want Float32", raw.DType())
	}
	if raw.NumElements() != 6 {
		t.Errorf("NumElements() = %d, want 6", raw.NumElements())
	}
	if raw.ByteSize() != 6*4 {
		t.Errorf("ByteSize() = %d, want %d", raw.ByteSize(), 6*4)
	}
	if len(raw.AsFloat32()) != 6 {
		t.Errorf("AsFloat32() length = %d, want 6", len(raw.AsFloat32()))
	}

	clone := raw.Clone()
	clone.AsFloat32()[0] = 42
	if raw.AsFloat32()[0] == 42 {
		t.Error("Clone() must not share the underlying buffer")
	}
}

// TestFromFloat32 verifies value initialization and count validation.
func TestFromFloat32(t *testing.T) {
	raw, err := tensor.FromFloat32(tensor.Shape{1, 4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("FromFloat32 failed: %v", err)
	}
	got := raw.AsFloat32()
	for i, want := range []float32{1, 2, 3, 4} {
		if got[i] != want {
			t.Errorf("element %d = %v, want %v", i, got[i], want)
		}
	}

	if _, err := tensor.FromFloat32(tensor.Shape{1, 4}, []float32{1, 2}); err == nil {
		t.Error("FromFloat32 with short values should fail")
	}
}

// TestParseDataType verifies the serialized name round trip.
func TestParseDataType(t *testing.T) {
	for _, dt := range []tensor.DataType{
		tensor.Float32, tensor.Float64, tensor.Int32, tensor.Int64, tensor.Uint8,
	} {
		parsed, err := tensor.ParseDataType(dt.String())
		if err != nil {
			t.Fatalf("ParseDataType(%q) failed: %v", dt.String(), err)
		}
		if parsed != dt {
			t.Errorf("ParseDataType(%q) = %v, want %v", dt.String(), parsed, dt)
		}
	}

	if _, err := tensor.ParseDataType("complex128"); err == nil {
		t.Error("ParseDataType with unknown name should fail")
	}
}
