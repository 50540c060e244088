// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cpuset

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"
)

// CPUSet is an alias for k8s.io/utils/cpuset.CPUSet.
type CPUSet = cpuset.CPUSet

var (
	// New is an alias for cpuset.New.
	New = cpuset.New
	// Parse is an alias for cpuset.Parse.
	Parse = cpuset.Parse
)

// MustParse panics if parsing the given cpuset string fails.
func MustParse(s string) cpuset.CPUSet {
	cset, err := cpuset.Parse(s)
	if err != nil {
		panic(fmt.Errorf("failed to parse CPUSet %s: %w", s, err))
	}
	return cset
}

// ParseList parses a kernel-style CPU list ("0-3,7,9-10") into a slice of
// CPU IDs. Unlike Parse, the order of the list is preserved, which matters
// for lists reported by hardware tools where the order carries preference.
func ParseList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}

	cpus := []int{}
	for _, r := range strings.Split(s, ",") {
		r = strings.TrimSpace(r)
		lohi := strings.SplitN(r, "-", 2)
		lo, err := strconv.Atoi(strings.TrimSpace(lohi[0]))
		if err != nil || lo < 0 {
			return nil, fmt.Errorf("invalid CPU list %q: bad entry %q", s, r)
		}
		if len(lohi) == 1 {
			cpus = append(cpus, lo)
			continue
		}
		hi, err := strconv.Atoi(strings.TrimSpace(lohi[1]))
		if err != nil || hi < lo {
			return nil, fmt.Errorf("invalid CPU list %q: bad range %q", s, r)
		}
		for cpu := lo; cpu <= hi; cpu++ {
			cpus = append(cpus, cpu)
		}
	}

	return cpus, nil
}

// MustParseList panics if parsing the given CPU list fails.
func MustParseList(s string) []int {
	cpus, err := ParseList(s)
	if err != nil {
		panic(err)
	}
	return cpus
}

// Intersect returns the CPUs of list which are present in set, in list
// order. Repeated CPUs are only returned once.
func Intersect(list []int, set cpuset.CPUSet) []int {
	var (
		result = []int{}
		seen   = cpuset.New()
	)
	for _, cpu := range list {
		if set.Contains(cpu) && !seen.Contains(cpu) {
			result = append(result, cpu)
			seen = seen.Union(cpuset.New(cpu))
		}
	}
	return result
}

// FormatList formats a CPU list for logging and tool arguments, keeping
// the order of the list.
func FormatList(cpus []int, sep string) string {
	strs := make([]string, 0, len(cpus))
	for _, cpu := range cpus {
		strs = append(strs, strconv.Itoa(cpu))
	}
	return strings.Join(strs, sep)
}
