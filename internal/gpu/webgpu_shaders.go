//go:build webgpu
// +build webgpu

package gpu

// workgroupSize is the number of invocations per workgroup in every shader.
const workgroupSize = 256

// correlateShader computes the zero-padded N-D cross-correlation.
// dims holds the input extents followed by the kernel extents.
// Dispatches wider than 65535 workgroups spill into the y dimension.
const correlateShader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read> weights: array<f32>;
@group(0) @binding(2) var<storage, read> dims: array<u32>;
@group(0) @binding(3) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    rank: u32,
    ksize: u32,
    _pad: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.y * 65535u * 256u + global_id.x;
    if (idx >= params.size) {
        return;
    }
    let rank = i32(params.rank);

    var coord: array<i32, 8>;
    var rem = idx;
    for (var d = rank - 1; d >= 0; d = d - 1) {
        let e = dims[u32(d)];
        coord[d] = i32(rem % e);
        rem = rem / e;
    }

    var acc: f32 = 0.0;
    for (var t = 0u; t < params.ksize; t = t + 1u) {
        let w = weights[t];
        if (w == 0.0) {
            continue;
        }
        var trem = t;
        var src = 0u;
        var stride = 1u;
        var inside = true;
        for (var d = rank - 1; d >= 0; d = d - 1) {
            let ke = dims[params.rank + u32(d)];
            let c = coord[d] + i32(trem % ke) - i32(ke / 2u);
            trem = trem / ke;
            let e = dims[u32(d)];
            if (c < 0 || c >= i32(e)) {
                inside = false;
                break;
            }
            src = src + u32(c) * stride;
            stride = stride * e;
        }
        if (inside) {
            acc = acc + input[src] * w;
        }
    }
    result[idx] = acc;
}
`

// thresholdShader maps correlation sums to 0/1.
// mode 0 keeps values > 0, mode 1 keeps values == total.
const thresholdShader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    mode: u32,
    total: f32,
    _pad: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.y * 65535u * 256u + global_id.x;
    if (idx >= params.size) {
        return;
    }
    let v = input[idx];
    var hit = v > 0.0;
    if (params.mode == 1u) {
        hit = v == params.total;
    }
    result[idx] = select(0.0, 1.0, hit);
}
`
