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

package parser

import (
	"strings"
)

// DeviceMap maps physical NPU IDs and chip IDs to logical accelerator IDs.
type DeviceMap map[string]map[string]int

// DeviceChip identifies a chip on a physical NPU.
type DeviceChip struct {
	NPU  string
	Chip string
}

// Lookup returns the logical ID of the given chip.
func (m DeviceMap) Lookup(npu, chip string) (int, bool) {
	id, ok := m[npu][chip]
	return id, ok
}

// DeviceMapParser parses the device mapping table of the device-info tool
// (npu-smi info -m). The first line is a header. Each row starts with the
// NPU ID, chip ID and chip logic ID columns; rows without a numeric logic
// ID, like MCU chips, are skipped.
var DeviceMapParser Parser[DeviceMap] = Func[DeviceMap](ParseDeviceMap)

// ParseDeviceMap implements DeviceMapParser.
func ParseDeviceMap(raw string) (DeviceMap, error) {
	m := DeviceMap{}

	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 1 {
		return m, nil
	}

	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		npu, chip, logical := fields[0], fields[1], fields[2]
		if !isNumber(logical) {
			continue
		}
		id, err := atoi(logical)
		if err != nil {
			return nil, err
		}
		if _, ok := m[npu]; !ok {
			m[npu] = map[string]int{}
		}
		m[npu][chip] = id
	}

	return m, nil
}

// ProcessTableParser parses the per-device process section of the process
// monitor tool (npu-smi info). The section starts with the header row
// "| NPU  Chip | Process id | ...". Every following table row is split
// into cells; the first cell holds the NPU and chip IDs. Rows which do not
// start with two numbers, such as "No running processes found", are
// skipped. The result lists one entry per process, in table order.
var ProcessTableParser Parser[[]DeviceChip] = Func[[]DeviceChip](ParseProcessTable)

// ParseProcessTable implements ProcessTableParser.
func ParseProcessTable(raw string) ([]DeviceChip, error) {
	var (
		inSection bool
		chips     = []DeviceChip{}
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "| NPU") && strings.Contains(line, "Process id") {
			inSection = true
			continue
		}
		if !inSection || !strings.HasPrefix(line, "| ") {
			continue
		}

		cells := strings.Split(strings.Trim(line, "|"), "|")
		if len(cells) < 2 {
			continue
		}
		ids := strings.Fields(cells[0])
		if len(ids) < 2 || !isNumber(ids[0]) || !isNumber(ids[1]) {
			continue
		}
		chips = append(chips, DeviceChip{NPU: ids[0], Chip: ids[1]})
	}

	return chips, nil
}
