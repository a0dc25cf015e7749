//go:build webgpu

package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/digital-nomad-cheng/tvm/internal/logger"
)

// gpuWorkgroupSize is the thread count per compute workgroup.
const gpuWorkgroupSize = 64

// innerProductShader computes one output feature per invocation:
// y[o] = activate(bias[o] + dot(weight[o], x)).
const innerProductShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> weight: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read_write> y: array<f32>;

struct Params {
    in_features: u32,
    out_features: u32,
    has_bias: u32,
    apply_relu: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let o = global_id.x;
    if (o >= params.out_features) {
        return;
    }
    var sum: f32 = 0.0;
    if (params.has_bias == 1u) {
        sum = bias[o];
    }
    let base = o * params.in_features;
    for (var i: u32 = 0u; i < params.in_features; i = i + 1u) {
        sum = sum + weight[base + i] * x[i];
    }
    if (params.apply_relu == 1u && sum < 0.0) {
        sum = 0.0;
    }
    y[o] = sum;
}
`

// gpuDevice is the process-wide WebGPU context, created lazily on the
// first PreferGPU forward and shared by every layer.
type gpuDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	pipeline *wgpu.ComputePipeline
}

var (
	gpuOnce sync.Once
	gpu     *gpuDevice
	gpuErr  error
)

// acquireGPU initializes the shared device once. A missing native
// wgpu library surfaces as an error, not a crash.
func acquireGPU() (dev *gpuDevice, err error) {
	gpuOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				gpu = nil
				gpuErr = fmt.Errorf("webgpu native library not available: %v", r)
			}
		}()

		instance := wgpu.CreateInstance(nil)
		adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if adapterErr != nil {
			instance.Release()
			gpuErr = fmt.Errorf("webgpu: request adapter: %w", adapterErr)
			return
		}
		device, deviceErr := adapter.RequestDevice(nil)
		if deviceErr != nil {
			adapter.Release()
			instance.Release()
			gpuErr = fmt.Errorf("webgpu: request device: %w", deviceErr)
			return
		}
		queue := device.GetQueue()
		if queue == nil {
			device.Release()
			adapter.Release()
			instance.Release()
			gpuErr = fmt.Errorf("webgpu: failed to get queue")
			return
		}

		shader := device.CreateShaderModuleWGSL(innerProductShader)
		pipeline := device.CreateComputePipelineSimple(nil, shader, "main")

		gpu = &gpuDevice{
			instance: instance,
			adapter:  adapter,
			device:   device,
			queue:    queue,
			pipeline: pipeline,
		}
	})
	return gpu, gpuErr
}

// forwardGPU routes the forward pass through the compute shader when
// the options ask for it. An unavailable device falls back to the CPU
// kernels; a failed dispatch is a real error.
func (l *InnerProduct) forwardGPU(in, out *Mat) (bool, error) {
	if !l.opt.PreferGPU {
		return false, nil
	}
	dev, err := acquireGPU()
	if err != nil {
		logger.Log.Warn("gpu unavailable, using cpu kernels", "err", err)
		return false, nil
	}
	if err := dev.innerProduct(l, in, out); err != nil {
		return true, fmt.Errorf("gpu innerproduct: %w", err)
	}
	return true, nil
}

// innerProduct uploads the operands, dispatches one workgroup row per
// gpuWorkgroupSize output features and reads the result back through
// a staging buffer.
func (d *gpuDevice) innerProduct(l *InnerProduct, in, out *Mat) error {
	bufX := d.createBuffer(f32Bytes(in.Data()), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()

	bufWeight := d.createBuffer(f32Bytes(l.weight), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufWeight.Release()

	// The bias binding must exist even without a bias term.
	bias := l.bias
	hasBias := uint32(1)
	if bias == nil {
		bias = make([]float32, 1)
		hasBias = 0
	}
	bufBias := d.createBuffer(f32Bytes(bias), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufBias.Release()

	resultSize := uint64(out.Total() * 4)
	bufY := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufY.Release()

	applyReLU := uint32(0)
	if l.Params.Activation == ActivationReLU {
		applyReLU = 1
	}
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(l.InFeatures()))
	binary.LittleEndian.PutUint32(params[4:8], uint32(l.Params.OutFeatures))
	binary.LittleEndian.PutUint32(params[8:12], hasBias)
	binary.LittleEndian.PutUint32(params[12:16], applyReLU)
	bufParams := d.createBuffer(params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	defer bufParams.Release()

	bindGroupLayout := d.pipeline.GetBindGroupLayout(0)
	bindGroup := d.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, uint64(len(f32Bytes(in.Data())))),
		wgpu.BufferBindingEntry(1, bufWeight, 0, uint64(len(l.weight)*4)),
		wgpu.BufferBindingEntry(2, bufBias, 0, uint64(len(bias)*4)),
		wgpu.BufferBindingEntry(3, bufY, 0, resultSize),
		wgpu.BufferBindingEntry(4, bufParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(d.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	workgroups := uint32((l.Params.OutFeatures + gpuWorkgroupSize - 1) / gpuWorkgroupSize)
	pass.DispatchWorkgroups(workgroups, 1, 1)
	pass.End()

	cmd := encoder.Finish(nil)
	d.queue.Submit(cmd)

	result, err := d.readBuffer(bufY, resultSize)
	if err != nil {
		return err
	}
	copy(out.Data(), bytesF32(result, out.Total()))
	return nil
}

// createBuffer uploads data through a mapped-at-creation buffer.
func (d *gpuDevice) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// readBuffer copies a storage buffer back to host memory through a
// staging buffer, since storage buffers cannot be mapped directly.
func (d *gpuDevice) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmd := encoder.Finish(nil)
	d.queue.Submit(cmd)

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mapped)
	staging.Unmap()
	return result, nil
}

func f32Bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}

func bytesF32(b []byte, n int) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}
