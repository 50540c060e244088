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

package parser_test

import (
	"context"
	"errors"
	"os"
	"path"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/parser"
	"github.com/containers/npu-affinity/pkg/tools"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type (
	DeviceChip = parser.DeviceChip
	CPUNode    = parser.CPUNode
	Thread     = parser.Thread
)

func fixture(name string) string {
	data, err := os.ReadFile(path.Join("testdata", name))
	if err != nil {
		panic(err)
	}
	return string(data)
}

func isMalformed(err error) bool {
	var ferr *failure.Error
	return errors.As(err, &ferr) && ferr.Kind == failure.Tool && ferr.Reason == failure.Malformed
}

var _ = Describe("device map", func() {
	It("maps NPU and chip IDs to logical IDs, skipping MCU chips", func() {
		m, err := parser.DeviceMapParser.Parse(fixture("npu-smi-info-m.txt"))
		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(Equal(parser.DeviceMap{
			"0": {"0": 0},
			"1": {"0": 1},
			"2": {"0": 2},
			"3": {"0": 3},
		}))
		id, ok := m.Lookup("2", "0")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(2))
		_, ok = m.Lookup("0", "1")
		Expect(ok).To(BeFalse())
	})

	It("returns an empty map for header-only output", func() {
		m, err := parser.ParseDeviceMap("NPU ID  Chip ID  Chip Logic ID  Chip Name\n")
		Expect(err).ToNot(HaveOccurred())
		Expect(m).To(BeEmpty())
	})
})

var _ = DescribeTable("process table",
	func(input string, expected []DeviceChip) {
		chips, err := parser.ProcessTableParser.Parse(input)
		Expect(err).ToNot(HaveOccurred())
		Expect(chips).To(Equal(expected))
	},

	Entry("busy devices", fixture("npu-smi-info.txt"), []DeviceChip{
		{NPU: "0", Chip: "0"},
		{NPU: "2", Chip: "0"},
		{NPU: "2", Chip: "0"},
		{NPU: "3", Chip: "0"},
	}),
	Entry("idle devices", fixture("npu-smi-info-idle.txt"), []DeviceChip{}),
	Entry("no process section", "| 0     910B3  | OK  |\n", []DeviceChip{}),
)

var _ = DescribeTable("allowed CPUs",
	func(input string, expected []int, failed bool) {
		cpus, err := parser.AllowedCPUsParser.Parse(input)
		if failed {
			Expect(err).To(MatchError(failure.ErrConfig))
			return
		}
		Expect(err).ToNot(HaveOccurred())
		Expect(cpus).To(Equal(expected))
	},

	Entry("status file", fixture("status.txt"), []int{0, 1, 2, 3, 7, 9, 10}, false),
	Entry("single CPU", "Cpus_allowed_list:\t5\n", []int{5}, false),
	Entry("missing entry", "Name:\tbash\nCpus_allowed:\tff\n", nil, true),
	Entry("garbage entry", "Cpus_allowed_list:\tx-y\n", nil, true),
)

var _ = Describe("affinity topology", func() {
	It("parses the CPU affinity column", func() {
		affinity, err := parser.AffinityParser.Parse(fixture("npu-smi-topo.txt"))
		Expect(err).ToNot(HaveOccurred())
		Expect(affinity).To(HaveLen(4))
		Expect(affinity[0]).To(HaveLen(24))
		Expect(affinity[0][0]).To(Equal(144))
		Expect(affinity[0]).To(Equal(affinity[1]))
		Expect(affinity[2][0]).To(Equal(96))
		Expect(affinity[3][23]).To(Equal(119))
	})

	It("skips a header row starting with an NPU column", func() {
		affinity, err := parser.ParseAffinity("NPU0 NPU1 CPU Affinity\nNPU0 X HCCS 0-2,8\n")
		Expect(err).ToNot(HaveOccurred())
		Expect(affinity).To(Equal(map[int][]int{0: {0, 1, 2, 8}}))
	})

	It("returns nothing without topology reporting", func() {
		affinity, err := parser.ParseAffinity("Legend:\n  X = Self\n")
		Expect(err).ToNot(HaveOccurred())
		Expect(affinity).To(BeEmpty())
	})

	It("rejects a malformed CPU list", func() {
		_, err := parser.ParseAffinity("NPU0 X 0-x\n")
		Expect(isMalformed(err)).To(BeTrue())
	})
})

var _ = Describe("NUMA layout", func() {
	It("parses CPU and node columns, skipping comments", func() {
		layout, err := parser.NUMALayoutParser.Parse(fixture("lscpu.txt"))
		Expect(err).ToNot(HaveOccurred())
		Expect(layout).To(HaveLen(8))
		Expect(layout[0]).To(Equal(CPUNode{CPU: 0, Node: 0}))
		Expect(layout[7]).To(Equal(CPUNode{CPU: 7, Node: 1}))
	})

	It("treats a missing node as node 0", func() {
		layout, err := parser.ParseNUMALayout("# CPU,Node\n0,\n1,\n")
		Expect(err).ToNot(HaveOccurred())
		Expect(layout).To(Equal([]CPUNode{{CPU: 0, Node: 0}, {CPU: 1, Node: 0}}))
	})

	It("rejects malformed lines", func() {
		_, err := parser.ParseNUMALayout("0;0\n")
		Expect(isMalformed(err)).To(BeTrue())
		_, err = parser.ParseNUMALayout("a,0\n")
		Expect(isMalformed(err)).To(BeTrue())
	})
})

var _ = Describe("thread list", func() {
	It("parses ps -Te output", func() {
		threads, err := parser.ThreadListParser.Parse(fixture("ps-Te.txt"))
		Expect(err).ToNot(HaveOccurred())
		Expect(threads).To(HaveLen(8))
		Expect(threads[2]).To(Equal(Thread{PID: 2785, TID: 2801, Name: "acl_thread"}))
		Expect(threads[6]).To(Equal(Thread{PID: 2790, TID: 2812, Name: "relation_thread"}))
	})
})

var _ = Describe("running a tool", func() {
	It("annotates malformed output with the tool", func() {
		r := tools.NewFakeRunner().SetOutput("0;0\n", "lscpu", "-p=CPU,NODE")
		_, err := parser.RunAndParse(context.Background(), r,
			[]string{"lscpu", "-p=CPU,NODE"}, parser.NUMALayoutParser)
		Expect(isMalformed(err)).To(BeTrue())
		Expect(err.(*failure.Error).Tool).To(Equal("lscpu -p=CPU,NODE"))
	})

	It("passes tool failures through", func() {
		r := tools.NewFakeRunner().SetFailure(failure.Timeout, "ps", "-Te")
		_, err := parser.RunAndParse(context.Background(), r,
			[]string{"ps", "-Te"}, parser.ThreadListParser)
		Expect(err).To(MatchError(&failure.Error{Kind: failure.Tool, Reason: failure.Timeout}))
	})
})
