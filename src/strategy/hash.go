/*
Copyright (c) Eden Dev, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package strategy

import (
	"hash/fnv"
	"math"
)

// hashFraction maps key to a stable value in [0, 1). The same key
// always lands on the same point, so a fixed percentage keeps a
// session on one side across repeated requests. When the percentage
// moves, only keys between the old and new thresholds change sides.
//
// The raw FNV-1a sum is noticeably non-uniform on short sequential
// keys, so it goes through a splitmix64 finalizer before the divide.
func hashFraction(key string) float64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return float64(mix64(h.Sum64())) / float64(math.MaxUint64)
}

// mix64 is the splitmix64 finalizer; it spreads the low-entropy FNV
// sums of similar keys across the full 64-bit range.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// clampFraction clamps percentage-style parameters to [0, 1].
func clampFraction(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
